package ep

import (
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendSetup holds the parameters of the one-time backend initialization for a graph.
type BackendSetup struct {
	// GraphName of the graph being analyzed.
	GraphName string

	// IsContextModel is set if the graph holds precompiled contexts of this backend.
	IsContextModel bool

	EnableSpillFillBuffer          bool
	ShareEPContexts                bool
	EnableVTCMBackupBufferSharing  bool
	EnableHTPSharedMemoryAllocator bool

	// ContextBinaries maps the resolved path of each context binary file to the names of the main
	// context nodes loaded from it. They must be loaded as one unit.
	// It is only populated if EnableVTCMBackupBufferSharing is set.
	ContextBinaries map[string][]string

	// ContextNodes are the names of the main context nodes, in graph order.
	ContextNodes []string
}

// BackendManager initializes the accelerator backend for a graph. Compiling and executing partitions
// are outside its role here.
type BackendManager interface {
	SetupBackend(logger klog.Logger, setup *BackendSetup) error
}

// NopBackendManager does no device initialization. It records the setups it was given, and if
// context sharing is enabled it publishes the main contexts of context models to the SharedContext,
// acting as a producer session would.
type NopBackendManager struct {
	// Shared is where contexts are published. If nil the process-wide SharedContextInstance is used.
	Shared *SharedContext

	// Setups received, in order. Only read it after the analyses finished.
	Setups []*BackendSetup

	mu sync.Mutex
}

var _ BackendManager = (*NopBackendManager)(nil)

// SetupBackend implements BackendManager.
func (m *NopBackendManager) SetupBackend(logger klog.Logger, setup *BackendSetup) error {
	if setup == nil {
		return errors.New("NopBackendManager.SetupBackend(): nil setup")
	}
	m.mu.Lock()
	m.Setups = append(m.Setups, setup)
	m.mu.Unlock()
	if setup.EnableVTCMBackupBufferSharing {
		for _, path := range slices.Sorted(maps.Keys(setup.ContextBinaries)) {
			logger.V(4).Info("context binary", "path", path, "graphs", setup.ContextBinaries[path])
		}
	}
	if !setup.IsContextModel || !setup.ShareEPContexts {
		return nil
	}
	shared := m.Shared
	if shared == nil {
		shared = SharedContextInstance()
	}
	for _, name := range setup.ContextNodes {
		shared.Add(name)
	}
	return nil
}

// BackendManagerFunc adapts a function to the BackendManager interface.
type BackendManagerFunc func(logger klog.Logger, setup *BackendSetup) error

// SetupBackend implements BackendManager.
func (fn BackendManagerFunc) SetupBackend(logger klog.Logger, setup *BackendSetup) error {
	return fn(logger, setup)
}
