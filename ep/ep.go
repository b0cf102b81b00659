// Package ep implements the capability analysis of the QNN execution provider: given a host graph it
// decides which nodes can be offloaded to the accelerator and reports them as partitions to fuse.
//
//   - EP: the analyzer, see EP.GetCapability and EP.Analyze.
//   - MetadefIDGenerator: names the partitions, unique per graph within the process.
//   - SharedContext: precompiled contexts shared across sessions, used for the shared fast path.
//   - BackendManager: the backend initialization collaborator.
//   - Grouper: builds the partitions out of the supported nodes, see TopologicalGrouper.
//
// An EP can be used concurrently to analyze different graphs. It shares process-wide state (the
// default SharedContext and MetadefIDGenerator) with the other EPs, unless given its own with the options.
package ep

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/qnn-ep/ep/opbuilder"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultName of the execution provider.
const DefaultName = "QNNExecutionProvider"

// Session option keys read by ConfigFromSessionOptions.
const (
	OptionContextEnable                 = "ep.context_enable"
	OptionShareEPContexts               = "ep.share_ep_contexts"
	OptionEnableHTPSharedMemory         = "ep.enable_htp_shared_memory_allocator"
	OptionEnableVTCMBackupBufferSharing = "ep.enable_vtcm_backup_buffer_sharing"
	OptionContextNodeNamePrefix         = "ep.context_node_name_prefix"
	OptionContextFilePath               = "ep.context_file_path"
)

// DefaultSourceNames are the values of the "source" attribute of EPContext nodes compiled by this
// backend. They are compared case-insensitively.
var DefaultSourceNames = []string{DefaultName, "QNN"}

// Config holds the resolved configuration of an EP.
type Config struct {
	// Name of the execution provider.
	Name string

	// EnableEPContext enables generating/using precompiled context models.
	EnableEPContext bool

	// ShareEPContexts shares precompiled contexts across sessions, through the SharedContext.
	ShareEPContexts bool

	// EnableVTCMBackupBufferSharing makes context nodes backed by the same binary file be loaded
	// together. It requires ShareEPContexts.
	EnableVTCMBackupBufferSharing bool

	// EnableSpillFillBuffer is only honored if EnableEPContext is also set.
	EnableSpillFillBuffer bool

	EnableHTPSharedMemoryAllocator bool

	// ContextNodeNamePrefix is inserted in the partition names: "QNN<prefix>_<hash>_<id>".
	ContextNodeNamePrefix string

	// ContextCachePath overrides the model path when resolving the context binary files.
	ContextCachePath string

	// SourceNames identify the context nodes of this backend. Defaults to DefaultSourceNames.
	SourceNames []string
}

// DefaultConfig returns the configuration with all options disabled.
func DefaultConfig() Config {
	return Config{
		Name:        DefaultName,
		SourceNames: append([]string(nil), DefaultSourceNames...),
	}
}

// ConfigFromSessionOptions parses the session options into a Config. Boolean options take the values
// "0" or "1", other values are an error. Unknown keys are ignored.
func ConfigFromSessionOptions(options map[string]string) (Config, error) {
	config := DefaultConfig()
	for key, ptr := range map[string]*bool{
		OptionContextEnable:                 &config.EnableEPContext,
		OptionShareEPContexts:               &config.ShareEPContexts,
		OptionEnableHTPSharedMemory:         &config.EnableHTPSharedMemoryAllocator,
		OptionEnableVTCMBackupBufferSharing: &config.EnableVTCMBackupBufferSharing,
	} {
		value, found := options[key]
		if !found {
			continue
		}
		switch value {
		case "0":
			*ptr = false
		case "1":
			*ptr = true
		default:
			return config, errors.Errorf("invalid value %q for session option %q, expected \"0\" or \"1\"", value, key)
		}
	}
	config.ContextNodeNamePrefix = options[OptionContextNodeNamePrefix]
	config.ContextCachePath = options[OptionContextFilePath]
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate checks the consistency of the options.
func (c Config) Validate() error {
	if c.EnableVTCMBackupBufferSharing && !c.ShareEPContexts {
		return errors.Errorf("session option %q requires %q to be enabled",
			OptionEnableVTCMBackupBufferSharing, OptionShareEPContexts)
	}
	return nil
}

// EP is the capability analyzer of the QNN execution provider.
type EP struct {
	config        Config
	sourceNames   sets.Set[string]
	registrations *opbuilder.Registrations
	shared        *SharedContext
	ids           *MetadefIDGenerator
	backend       BackendManager
	grouper       Grouper
	logger        klog.Logger
}

// Option configures an EP, see New.
type Option func(e *EP)

// WithRegistrations sets the table of supported operators. Default is opbuilder.Default().
func WithRegistrations(r *opbuilder.Registrations) Option {
	return func(e *EP) { e.registrations = r }
}

// WithSharedContext sets the registry of shared precompiled contexts. Default is SharedContextInstance().
func WithSharedContext(shared *SharedContext) Option {
	return func(e *EP) { e.shared = shared }
}

// WithIDGenerator sets the partition names generator. Default is DefaultIDGenerator().
func WithIDGenerator(ids *MetadefIDGenerator) Option {
	return func(e *EP) { e.ids = ids }
}

// WithBackendManager sets the backend initialization collaborator. Default is a NopBackendManager
// publishing to the EP's SharedContext.
func WithBackendManager(backend BackendManager) Option {
	return func(e *EP) { e.backend = backend }
}

// WithGrouper sets how supported nodes are grouped into partitions. Default is TopologicalGrouper.
func WithGrouper(grouper Grouper) Option {
	return func(e *EP) { e.grouper = grouper }
}

// WithLogger sets the logger. Default is klog.Background(). Use logr.Discard() to disable logging.
func WithLogger(logger klog.Logger) Option {
	return func(e *EP) { e.logger = logger }
}

// New creates an EP with the given configuration.
func New(config Config, options ...Option) *EP {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if len(config.SourceNames) == 0 {
		config.SourceNames = append([]string(nil), DefaultSourceNames...)
	}
	e := &EP{
		config:      config,
		sourceNames: sets.Make[string](len(config.SourceNames)),
		logger:      klog.Background(),
	}
	for _, name := range config.SourceNames {
		e.sourceNames.Insert(strings.ToLower(name))
	}
	for _, option := range options {
		option(e)
	}
	if e.registrations == nil {
		e.registrations = opbuilder.Default()
	}
	if e.shared == nil {
		e.shared = SharedContextInstance()
	}
	if e.ids == nil {
		e.ids = DefaultIDGenerator()
	}
	if e.backend == nil {
		e.backend = &NopBackendManager{Shared: e.shared}
	}
	if e.grouper == nil {
		e.grouper = TopologicalGrouper{}
	}
	e.logger = e.logger.WithName(config.Name)
	return e
}

// Name of the execution provider.
func (e *EP) Name() string { return e.config.Name }

// Config returns the EP configuration.
func (e *EP) Config() Config { return e.config }

// Registrations returns the table of supported operators used by the EP.
func (e *EP) Registrations() *opbuilder.Registrations { return e.registrations }
