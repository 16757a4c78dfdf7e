package dataserve

import (
	"context"

	"github.com/twitter/icebox/container"
)

// Provider names installed by Module.
const (
	ProviderConfig         = "config"
	ProviderEngine         = "engine"
	ProviderSessionFactory = "sessionFactory"
	ProviderDB             = "db"
	ProviderTaskDAO        = "taskDAO"
)

// Module declares the dataserve object graph:
//
//	config          value
//	engine          resource, process-scope  (connect / close)
//	sessionFactory  singleton
//	db              resource, call-scope     (open / commit-or-rollback)
//	taskDAO         factory
type Module struct {
	Cfg Config
}

func (m Module) Provide() []container.Spec {
	return []container.Spec{
		container.Value(ProviderConfig, m.Cfg),

		container.Resource(ProviderEngine, container.ProcessScope,
			func(ctx context.Context, deps []interface{}) (interface{}, error) {
				return Connect(deps[0].(Config))
			},
			func(ctx context.Context, instance interface{}, succeeded bool) error {
				return instance.(*Engine).Close()
			},
			ProviderConfig),

		container.Singleton(ProviderSessionFactory,
			func(ctx context.Context, deps []interface{}) (interface{}, error) {
				return NewSessionFactory(deps[0].(*Engine)), nil
			},
			ProviderEngine),

		container.Resource(ProviderDB, container.CallScope,
			func(ctx context.Context, deps []interface{}) (interface{}, error) {
				return deps[0].(*SessionFactory).Open()
			},
			func(ctx context.Context, instance interface{}, succeeded bool) error {
				s := instance.(*Session)
				if succeeded {
					return s.Commit()
				}
				return s.Rollback()
			},
			ProviderSessionFactory),

		container.Factory(ProviderTaskDAO,
			func(ctx context.Context, deps []interface{}) (interface{}, error) {
				return NewTaskDAO(deps[0].(*Session)), nil
			},
			ProviderDB),
	}
}
