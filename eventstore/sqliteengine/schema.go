package sqliteengine

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"strings"
	"text/template"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

//go:embed sql/schema.sql.tmpl
var schemaTemplateSource string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaTemplateSource))

var ErrCreatingSchemaFailed = errors.New("creating schema failed")

// SchemaSQL renders the DDL for the configured events and bookmarks tables.
func (es *EventStore) SchemaSQL() (string, error) {
	var buf bytes.Buffer

	err := schemaTemplate.Execute(&buf, map[string]string{
		"Events":    quoteIdentifier(es.eventTableName),
		"TypeIndex": quoteIdentifier(es.eventTableName + "_type_idx"),
		"Bookmarks": quoteIdentifier(es.bookmarksTableName),
	})
	if err != nil {
		return "", errors.Join(ErrCreatingSchemaFailed, err)
	}

	return buf.String(), nil
}

// CreateSchema creates the events and bookmarks tables if they do not exist.
func (es *EventStore) CreateSchema(ctx context.Context) error {
	ddl, err := es.SchemaSQL()
	if err != nil {
		return err
	}

	if _, execErr := es.db.ExecContext(ctx, ddl); execErr != nil {
		es.logError(logMsgDBQueryFailed, execErr, logAttrQuery, ddl)

		return errors.Join(ErrCreatingSchemaFailed, eventstore.ErrQueryingEventsFailed, execErr)
	}

	return nil
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
