// Package router provides the public API for embedding the agent router.
// This is the stable API for external consumers.
package router

import (
	"github.com/tjfontaine/agent-router/internal/runtime"
)

// Router is the main entry point for running the agent router.
// See internal/runtime.Router for full documentation.
type Router = runtime.Router

// Option is a functional option for configuring a Router.
type Option = runtime.Option

// New creates a new Router with the given options.
// Example:
//
//	r, err := router.New(
//	    router.WithFileConfig("config.yaml"),
//	    router.WithToolClient(myTools),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Providers
	WithAuthProvider    = runtime.WithAuthProvider
	WithStorageProvider = runtime.WithStorageProvider
	WithEventPublisher  = runtime.WithEventPublisher

	// Policy
	WithBasicPolicy = runtime.WithBasicPolicy
	WithToolPolicy  = runtime.WithToolPolicy

	// Reasoning and tools
	WithReasoningClient = runtime.WithReasoningClient
	WithToolClient      = runtime.WithToolClient

	// Advanced options
	WithHTTPClient = runtime.WithHTTPClient
	WithLogger     = runtime.WithLogger
)
