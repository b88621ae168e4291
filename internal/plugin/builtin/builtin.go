// Package builtin assembles the registry of shipped plugins.
package builtin

import (
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/plugin/azureplugin"
	"deploy-reloaded/internal/plugin/batchplugin"
	"deploy-reloaded/internal/plugin/ftpplugin"
	"deploy-reloaded/internal/plugin/localplugin"
	"deploy-reloaded/internal/plugin/s3plugin"
	"deploy-reloaded/internal/plugin/scriptplugin"
	"deploy-reloaded/internal/plugin/sftpplugin"
	"deploy-reloaded/internal/plugin/slackplugin"
	"deploy-reloaded/internal/plugin/testplugin"
)

// NewRegistry returns a registry with every built-in target type.
func NewRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	azureplugin.Register(r)
	batchplugin.Register(r)
	ftpplugin.Register(r)
	localplugin.Register(r)
	s3plugin.Register(r)
	scriptplugin.Register(r)
	sftpplugin.Register(r)
	slackplugin.Register(r)
	testplugin.Register(r)
	return r
}
