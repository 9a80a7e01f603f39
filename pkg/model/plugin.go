package model

import "context"

// Plugin observes saves. BeforeSave runs before the insert or update hook
// and can veto it by returning an error. AfterSave runs once the diff has
// been cleared; its error is returned by Save but the row stays saved.
type Plugin interface {
	BeforeSave(ctx context.Context, r *Record) error
	AfterSave(ctx context.Context, r *Record, result interface{}) error
}

// PluginFuncs adapts plain functions to Plugin. Nil functions are skipped.
type PluginFuncs struct {
	Before func(ctx context.Context, r *Record) error
	After  func(ctx context.Context, r *Record, result interface{}) error
}

func (p PluginFuncs) BeforeSave(ctx context.Context, r *Record) error {
	if p.Before == nil {
		return nil
	}
	return p.Before(ctx, r)
}

func (p PluginFuncs) AfterSave(ctx context.Context, r *Record, result interface{}) error {
	if p.After == nil {
		return nil
	}
	return p.After(ctx, r, result)
}
