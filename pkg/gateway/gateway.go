// Package gateway provides the public API for embedding the rewrite gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
	"github.com/tjfontaine/polyglot-rewrite/internal/rules"
	"github.com/tjfontaine/polyglot-rewrite/internal/runtime"
)

// Gateway runs the rewrite engine in front of an application handler.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	    gateway.WithApplication(mux),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfigFile     = runtime.WithConfigFile
	WithConfigProvider = runtime.WithConfigProvider
	WithLogger         = runtime.WithLogger
	WithApplication    = runtime.WithApplication
	WithProductStore   = runtime.WithProductStore

	// Participants
	WithCatalog      = runtime.WithCatalog
	WithParticipants = runtime.WithParticipants
)

// Participant contracts.
type (
	Rewrite             = ports.Rewrite
	InboundRewrite      = ports.InboundRewrite
	OutboundRewrite     = ports.OutboundRewrite
	Condition           = ports.Condition
	ConditionFunc       = ports.ConditionFunc
	Operation           = ports.Operation
	OperationFunc       = ports.OperationFunc
	Rule                = ports.Rule
	Configuration       = ports.Configuration
	Environment         = ports.Environment
	RuleProvider        = ports.RuleProvider
	LifecycleListener   = ports.LifecycleListener
	RequestCycleWrapper = ports.RequestCycleWrapper
	ResultHandler       = ports.ResultHandler
	Participants        = registry.Participants
	Catalog             = registry.Catalog
	Kind                = registry.Kind
	Flow                = domain.Flow
	Bindings            = domain.Bindings
)

// Participant kinds, as named in the participants configuration section.
const (
	KindListener      = registry.KindListener
	KindWrapper       = registry.KindWrapper
	KindProvider      = registry.KindProvider
	KindResultHandler = registry.KindResultHandler
	KindInbound       = registry.KindInbound
	KindOutbound      = registry.KindOutbound
)

// Rule building
var (
	Begin       = rules.Begin
	NewProvider = rules.NewProvider
	Path        = rules.Path
	PathRegexp  = rules.PathRegexp
	Method      = rules.Method
	And         = rules.And
	Or          = rules.Or
	Not         = rules.Not
	Handled     = rules.Handled
	Abort       = rules.Abort
	SetStatus   = rules.SetStatus
	SetHeader   = rules.SetHeader
	Write       = rules.Write
	Redirect    = rules.Redirect
	Forward     = rules.Forward
	Include     = rules.Include
	Chain       = rules.Chain
)
