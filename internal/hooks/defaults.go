package hooks

import (
	"context"
	"time"

	"graphbase.dev/internal/database"
)

func (p *Pipeline) defaultHooks() []Hook {
	hooks := []Hook{
		{Trigger: database.BeforeCreate, Priority: 1, Fn: p.setCreationFields},
		{Trigger: database.BeforeUpdate, Priority: 1, Fn: p.setUpdatedAt},
	}
	for _, trigger := range []database.Trigger{
		database.BeforeCreate,
		database.BeforeRead,
		database.BeforeUpdate,
		database.BeforeDelete,
	} {
		hooks = append(hooks, Hook{Trigger: trigger, Priority: 0, Fn: p.checkPermission(trigger)})
	}
	return hooks
}

// setCreationFields stamps createdAt/updatedAt and fills schema defaults
// for fields the caller left unset.
func (p *Pipeline) setCreationFields(ctx context.Context, object *Object) error {
	now := p.now().UTC().Format(time.RFC3339Nano)
	if err := object.UpsertNewData("createdAt", now); err != nil {
		return err
	}
	if err := object.UpsertNewData("updatedAt", now); err != nil {
		return err
	}

	class := p.schema.Class(object.ClassName())
	if class == nil {
		return nil
	}
	for name, field := range class.Fields {
		if field.DefaultValue == nil || field.IsReference() || object.IsFieldUpdated(name) {
			continue
		}
		if err := object.UpsertNewData(name, field.DefaultValue); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) setUpdatedAt(ctx context.Context, object *Object) error {
	return object.UpsertNewData("updatedAt", p.now().UTC().Format(time.RFC3339Nano))
}
