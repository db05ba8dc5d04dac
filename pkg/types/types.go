package types

import "time"

// ComponentState is a position in the supervision state machine of §4.2.
type ComponentState string

const (
	StateInactive  ComponentState = "inactive"
	StateStarting  ComponentState = "starting"
	StateReadyWait ComponentState = "ready_wait"
	StateActive    ComponentState = "active"
	StateDegraded  ComponentState = "degraded"
	StateFailed    ComponentState = "failed"
	StateDone      ComponentState = "done"
	StateCycle     ComponentState = "cycle"
)

// Live reports whether a component in this state owns a live process
// identifier, per the global invariants of §3.
func (s ComponentState) Live() bool {
	switch s {
	case StateStarting, StateReadyWait, StateActive, StateDegraded:
		return true
	default:
		return false
	}
}

// Kind distinguishes a long-running service from a run-to-completion oneshot.
type Kind string

const (
	KindService Kind = "service"
	KindOneshot Kind = "oneshot"
)

// ReadinessMode selects how the readiness monitor (C6) decides a
// component has become willing to serve.
type ReadinessMode string

const (
	ReadinessNone    ReadinessMode = "none"
	ReadinessFile    ReadinessMode = "file"
	ReadinessSignal  ReadinessMode = "signal"
	ReadinessCommand ReadinessMode = "command"
)

// UpgradeStrategy selects a handoff strategy for the upgrade engine (C9).
type UpgradeStrategy string

const (
	UpgradeRestart            UpgradeStrategy = "restart"
	UpgradeFDPassing          UpgradeStrategy = "fd-passing"
	UpgradeCheckpointRestore  UpgradeStrategy = "checkpoint-restore"
)

// Namespace is a kernel namespace kind a component's isolation profile
// may request.
type Namespace string

const (
	NamespaceMount Namespace = "mount"
	NamespacePID   Namespace = "pid"
	NamespaceNet   Namespace = "net"
	NamespaceUTS   Namespace = "uts"
	NamespaceIPC   Namespace = "ipc"
	NamespaceUser  Namespace = "user"
)

// Command is an executable path plus its argument vector.
type Command struct {
	Program   string
	Arguments []string
}

// ReadinessPolicy configures how a component is promoted from
// STARTING/READY_WAIT to ACTIVE. The Target field is interpreted
// according to Mode: a path for file mode, a probe command for
// command mode, and unused for signal and none.
type ReadinessPolicy struct {
	Mode     ReadinessMode
	Target   string
	Command  []string
	Timeout  time.Duration
	Interval time.Duration // command mode poll interval
}

// HealthPolicy configures the periodic re-probe that drives
// ACTIVE <-> DEGRADED <-> FAILED once a component is live.
type HealthPolicy struct {
	Enabled      bool
	Probe        []string
	Interval     time.Duration
	Timeout      time.Duration
	DegradeAfter int // consecutive failures, ACTIVE -> DEGRADED
	FailAfter    int // additional consecutive failures, DEGRADED -> FAILED
}

// ResourceLimits mirrors the cgroup v2 controller knobs a component's
// isolation profile may set.
type ResourceLimits struct {
	MemoryMax int64   // bytes, 0 = unset
	MemoryHigh int64  // bytes, 0 = unset
	CPUWeight int     // 1-10000, 0 = unset
	CPUMax    float64 // fraction of a core, 0 = unset
	IOWeight  int     // 1-10000, 0 = unset
	PidsMax   int64   // 0 = unset
}

// IsolationProfile bundles the resource and namespace isolation a
// component's child process should receive before exec, per §4.7.
type IsolationProfile struct {
	Resources  ResourceLimits
	Namespaces []Namespace
	Hostname   string
	Root       string
}

// Empty reports whether this profile requests no isolation at all,
// i.e. the supervisor can skip the isolation sink entirely.
func (p *IsolationProfile) Empty() bool {
	if p == nil {
		return true
	}
	return len(p.Namespaces) == 0 && p.Hostname == "" && p.Root == "" &&
		p.Resources == (ResourceLimits{})
}

// CheckpointPolicy configures the optional checkpoint/restore tunables
// a component's manifest may declare (§6).
type CheckpointPolicy struct {
	Enabled      bool
	LeaveRunning bool
	PreserveFDs  bool
	MemoryEstimate int64
	MaxAge       time.Duration
}

// RestartWindow is the sliding-window restart rate limiter state kept
// per component, §4.2 "Restart rate limiting".
type RestartWindow struct {
	Starts      []time.Time // ring of recent start timestamps
	BackoffIdx  int         // index into the backoff sequence
	LastPromote time.Time   // last time the component reached ACTIVE
}

// BackoffSequence is the capped exponential backoff of §4.2.
var BackoffSequence = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

// Component is one managed unit, as defined in §3.
type Component struct {
	Name     string
	Kind     Kind
	Command  Command
	Requires []string
	Provides []string

	Readiness ReadinessPolicy
	Health    HealthPolicy
	Isolation IsolationProfile
	Upgrade   UpgradeStrategy
	Checkpoint CheckpointPolicy

	StopTimeout time.Duration

	// Supervision-owned fields, mutated only by the supervisor and the
	// readiness/health monitors, never by the resolver (§3 Lifecycle).
	State   ComponentState
	PID     int
	StartedAt time.Time

	Restart RestartWindow

	HealthFailures    int
	HealthSuccesses   int

	SourcePath string // manifest file this component was loaded from
}

// Manifest is the on-disk YAML schema of §6, one file per component.
type Manifest struct {
	Identity struct {
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
	} `yaml:"identity"`

	Command struct {
		Program   string   `yaml:"program"`
		Arguments []string `yaml:"arguments"`
	} `yaml:"command"`

	Requires struct {
		Capabilities []string `yaml:"capabilities"`
	} `yaml:"requires"`

	Provides struct {
		Capabilities []string `yaml:"capabilities"`
	} `yaml:"provides"`

	Lifecycle struct {
		Readiness         string   `yaml:"readiness"`
		ReadinessTarget   string   `yaml:"readiness-target"`
		ReadinessTimeout  float64  `yaml:"readiness-timeout"`
		ReadinessInterval float64  `yaml:"readiness-interval"`
		HealthProbe       []string `yaml:"health-probe"`
		HealthInterval    float64  `yaml:"health-interval"`
		HealthDegradeAfter int     `yaml:"health-degrade-after"`
		HealthFailAfter    int     `yaml:"health-fail-after"`
	} `yaml:"lifecycle"`

	Resources struct {
		MemoryMax  int64   `yaml:"memory-max"`
		MemoryHigh int64   `yaml:"memory-high"`
		CPUWeight  int     `yaml:"cpu-weight"`
		CPUMax     float64 `yaml:"cpu-max"`
		IOWeight   int     `yaml:"io-weight"`
		PidsMax    int64   `yaml:"pids-max"`
	} `yaml:"resources"`

	Isolation struct {
		Namespaces []string `yaml:"namespaces"`
		Hostname   string   `yaml:"hostname"`
		Root       string   `yaml:"root"`
	} `yaml:"isolation"`

	Upgrade struct {
		Strategy string `yaml:"strategy"`
	} `yaml:"upgrade"`

	Checkpoint struct {
		Enabled        bool    `yaml:"enabled"`
		LeaveRunning   bool    `yaml:"leave-running"`
		PreserveFDs    bool    `yaml:"preserve-fds"`
		MemoryEstimate int64   `yaml:"memory-estimate"`
		MaxAge         float64 `yaml:"max-age"`
	} `yaml:"checkpoint"`
}

// CheckpointRecord is the metadata persisted alongside a checkpoint
// dump, per §6 "Persisted state".
type CheckpointRecord struct {
	ID               string
	Component        string
	OriginalPID      int
	Timestamp        time.Time
	ImageSize        int64
	Capabilities     []string
	CheckpointToolVersion string
	DumpPath         string
}
