package postgresengine

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

//go:embed sql/schema.sql.tmpl
var schemaTemplateSource string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaTemplateSource))

var ErrCreatingSchemaFailed = errors.New("creating schema failed")

const logActionSchema = "schema"

// SchemaSQL renders the DDL for the configured events and bookmarks tables.
func (es *EventStore) SchemaSQL() (string, error) {
	var buf bytes.Buffer

	err := schemaTemplate.Execute(&buf, map[string]string{
		"Events":    pgx.Identifier{es.eventTableName}.Sanitize(),
		"TypeIndex": pgx.Identifier{es.eventTableName + "_type_idx"}.Sanitize(),
		"TagsIndex": pgx.Identifier{es.eventTableName + "_tags_idx"}.Sanitize(),
		"Bookmarks": pgx.Identifier{es.bookmarksTableName}.Sanitize(),
	})
	if err != nil {
		return "", errors.Join(ErrCreatingSchemaFailed, err)
	}

	return buf.String(), nil
}

// CreateSchema creates the events and bookmarks tables with their indexes if they do not exist.
func (es *EventStore) CreateSchema(ctx context.Context) error {
	ddl, err := es.SchemaSQL()
	if err != nil {
		return err
	}

	start := time.Now()
	_, execErr := es.querier().Exec(ctx, ddl)
	es.logQueryWithDuration(ctx, ddl, logActionSchema, time.Since(start))

	if execErr != nil {
		es.logErrorWithContext(ctx, logMsgDBQueryFailed, execErr)

		return errors.Join(ErrCreatingSchemaFailed, eventstore.ErrQueryingEventsFailed, execErr)
	}

	return nil
}
