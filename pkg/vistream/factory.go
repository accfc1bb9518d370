package vistream

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vistream/vistream/internal/backends/clearml"
	"github.com/vistream/vistream/internal/backends/local"
	"github.com/vistream/vistream/internal/backends/mlflow"
	"github.com/vistream/vistream/internal/backends/neptune"
	"github.com/vistream/vistream/internal/backends/tensorboard"
	"github.com/vistream/vistream/internal/backends/wandb"
	"github.com/vistream/vistream/internal/visbackend"
)

type backendFactory struct {
	// construct builds the backend from its config entry.
	construct func(
		params visbackend.Params,
		config visbackend.Config,
	) (visbackend.Backend, error)

	// network is true for backends that talk to a remote service.
	// These are skipped in offline mode.
	network bool
}

// factories maps a config type tag to its backend.
var factories = map[string]backendFactory{
	"LocalVisBackend": {
		construct: func(
			params visbackend.Params,
			config visbackend.Config,
		) (visbackend.Backend, error) {
			return local.New(params, config), nil
		},
	},

	"TensorboardVisBackend": {
		construct: func(
			params visbackend.Params,
			config visbackend.Config,
		) (visbackend.Backend, error) {
			return tensorboard.New(params, config), nil
		},
	},

	"WandbVisBackend": {
		construct: func(
			params visbackend.Params,
			config visbackend.Config,
		) (visbackend.Backend, error) {
			return wandb.New(params, config)
		},
		network: true,
	},

	"ClearMLVisBackend": {
		construct: func(
			params visbackend.Params,
			config visbackend.Config,
		) (visbackend.Backend, error) {
			return clearml.New(params, config)
		},
		network: true,
	},

	"NeptuneVisBackend": {
		// Neptune is not marked as a network backend: it handles
		// offline mode itself, switching to its local operations log
		// both without credentials and when the run is offline.
		construct: func(
			params visbackend.Params,
			config visbackend.Config,
		) (visbackend.Backend, error) {
			return neptune.New(params, config), nil
		},
	},

	"MLflowVisBackend": {
		construct: func(
			params visbackend.Params,
			config visbackend.Config,
		) (visbackend.Backend, error) {
			return mlflow.New(params, config)
		},
		network: true,
	},
}

// KnownBackendType reports whether the type tag has a registered
// backend.
func KnownBackendType(typeTag string) bool {
	_, ok := factories[typeTag]
	return ok
}

// KnownBackendTypes returns the registered type tags, sorted, as a
// comma-separated string for error messages.
func KnownBackendTypes() string {
	tags := make([]string, 0, len(factories))
	for tag := range factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return strings.Join(tags, ", ")
}

// newBackend constructs the backend for one vis_backends entry.
//
// In offline mode network backends return nil with no error; the
// caller drops them.
func newBackend(
	params visbackend.Params,
	config visbackend.Config,
) (visbackend.Backend, error) {
	factory, ok := factories[config.Type]
	if !ok {
		return nil, fmt.Errorf(
			"vistream: unknown backend type %q (known: %s)",
			config.Type, KnownBackendTypes())
	}

	if factory.network && params.Settings.Offline {
		params.Printer.Writef(
			"Offline mode: skipping %s.", config.Type)
		return nil, nil
	}

	return factory.construct(params, config)
}
