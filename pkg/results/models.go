package results

import (
	"time"
)

// TestResult outcome constants.
const (
	ResultPass      = "PASS"
	ResultFail      = "FAIL"
	ResultWarn      = "WARN"
	ResultNotTested = "N/T"
)

// Subscription header placement constants.
const (
	EmailTo = "to"
	EmailCC = "cc"
)

// Branch represents a repository branch that patch series are applied to.
type Branch struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"uniqueIndex;not null" json:"name"`
	RepositoryURL string `gorm:"not null" json:"repository_url"`
	WebURL        string `json:"web_url"`
	Regexp        string `json:"regexp"`
	LastCommitID  string `json:"last_commit_id"`
}

// CommitURL returns a cgit-style browse URL for a commit on a branch.
// Empty when either part is missing.
func CommitURL(branch *Branch, commitID string) string {
	if branch == nil || branch.WebURL == "" || commitID == "" {
		return ""
	}

	return branch.WebURL + "/commit/?id=" + commitID
}

// PatchSet aggregates the patches of one submitted series and the tarballs
// built from them.
type PatchSet struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UUID            string     `gorm:"uniqueIndex;not null" json:"uuid"`
	IsPublic        bool       `gorm:"not null;default:true" json:"is_public"`
	ApplyError      bool       `gorm:"not null" json:"apply_error"`
	BuildError      bool       `gorm:"not null" json:"build_error"`
	SeriesID        *uint      `gorm:"uniqueIndex" json:"series_id"`
	CompletedAt     *time.Time `json:"completed_at"`
	PatchworkActive bool       `gorm:"not null;default:true" json:"patchwork_active"`
	BranchID        *uint      `json:"branch_id"`
	CommitID        string     `json:"commit_id"`
	BuildLogKey     string     `json:"build_log_key"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Tarball is a build artifact produced from a patch set, or from a bare
// branch tip when PatchSetID is nil.
type Tarball struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	BranchID   *uint      `json:"branch_id"`
	CommitID   string     `gorm:"not null" json:"commit_id"`
	JobName    string     `json:"job_name"`
	BuildID    *uint      `json:"build_id"`
	TarballURL string     `gorm:"not null" json:"tarball_url"`
	PatchSetID *uint      `gorm:"index" json:"patchset_id"`
	Date       *time.Time `json:"date"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Environment is one versioned hardware/software configuration of a test
// bed. Cloning produces a successor linked through PredecessorID; the
// unique index on PredecessorID enforces at most one successor.
type Environment struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UUID        string `gorm:"uniqueIndex;not null" json:"uuid"`
	InventoryID string `gorm:"not null" json:"inventory_id"`
	OwnerGroup  string `gorm:"index" json:"owner_group"`

	MotherboardMake   string `json:"motherboard_make"`
	MotherboardModel  string `json:"motherboard_model"`
	MotherboardSerial string `json:"motherboard_serial"`
	CPUSocketCount    uint   `json:"cpu_socket_count"`
	CPUCoresPerSocket uint   `json:"cpu_cores_per_socket"`
	CPUThreadsPerCore uint   `gorm:"default:1" json:"cpu_threads_per_core"`
	RAMType           string `json:"ram_type"`
	RAMSizeMB         uint   `json:"ram_size_mb"`
	RAMChannelCount   uint   `gorm:"default:1" json:"ram_channel_count"`
	RAMFrequencyMHz   uint   `json:"ram_frequency_mhz"`
	NICMake           string `json:"nic_make"`
	NICModel          string `json:"nic_model"`
	NICSpeedMbps      uint   `gorm:"default:10000" json:"nic_speed_mbps"`
	NICDeviceID       string `json:"nic_device_id"`
	NICDeviceBustype  string `gorm:"default:pci" json:"nic_device_bustype"`
	NICDriver         string `json:"nic_driver"`
	NICFirmwareVer    string `json:"nic_firmware_version"`
	KernelCmdline     string `json:"kernel_cmdline"`
	KernelName        string `gorm:"default:linux" json:"kernel_name"`
	KernelVersion     string `json:"kernel_version"`
	CompilerName      string `gorm:"default:gcc" json:"compiler_name"`
	CompilerVersion   string `json:"compiler_version"`
	BIOSVersion       string `json:"bios_version"`
	OSDistro          string `json:"os_distro"`
	Pipeline          string `json:"pipeline"`

	PredecessorID  *uint      `gorm:"uniqueIndex" json:"predecessor_id"`
	Date           *time.Time `json:"date"`
	LiveSince      *time.Time `json:"live_since"`
	HardwareDocKey string     `json:"hardware_doc_key"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ContactPolicy holds the failure-notification knobs for one environment.
type ContactPolicy struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	EmailSubmitter  bool   `gorm:"not null" json:"email_submitter"`
	EmailRecipients bool   `gorm:"not null" json:"email_recipients"`
	EmailOwner      bool   `gorm:"not null;default:true" json:"email_owner"`
	EmailSuccess    bool   `gorm:"not null;default:true" json:"email_success"`
	EmailList       string `json:"email_list"`
	EnvironmentID   uint   `gorm:"uniqueIndex;not null" json:"environment_id"`
}

// TestCase identifies a test that environments run.
type TestCase struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Name           string `gorm:"not null" json:"name"`
	DescriptionURL string `json:"description_url"`
	Pipeline       string `json:"pipeline"`
}

// Measurement is one value measured during a test run on an environment.
type Measurement struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	Name           string      `gorm:"not null" json:"name"`
	Unit           string      `gorm:"not null" json:"unit"`
	HigherIsBetter bool        `gorm:"not null" json:"higher_is_better"`
	EnvironmentID  uint        `gorm:"index;not null" json:"environment_id"`
	TestCaseID     uint        `gorm:"not null" json:"testcase_id"`
	Parameters     []Parameter `gorm:"foreignKey:MeasurementID" json:"parameters,omitempty"`
}

// Parameter is an input parameter of a measurement, e.g. frame_size.
type Parameter struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"not null" json:"name"`
	Unit          string `json:"unit"`
	Value         int    `gorm:"not null" json:"value"`
	MeasurementID uint   `gorm:"index;not null" json:"measurement_id"`
}

// TestRun is one execution of a test case on an environment against a
// tarball. BaselineID optionally points at the prior run that expected
// values were derived from.
type TestRun struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	UUID          string       `gorm:"uniqueIndex;not null" json:"uuid"`
	Timestamp     time.Time    `gorm:"not null;index" json:"timestamp"`
	LogOutputURL  string       `json:"log_output_url"`
	LogKey        string       `json:"log_key"`
	TarballID     uint         `gorm:"index;not null" json:"tarball_id"`
	EnvironmentID uint         `gorm:"index;not null" json:"environment_id"`
	ReportedAt    *time.Time   `json:"reported_at"`
	BranchID      *uint        `json:"branch_id"`
	CommitID      string       `json:"commit_id"`
	TestCaseID    *uint        `json:"testcase_id"`
	BaselineID    *uint        `json:"baseline_id"`
	Results       []TestResult `gorm:"foreignKey:TestRunID" json:"results,omitempty"`
}

// TestResult is one measured value's pass/fail determination relative to
// its expected value.
type TestResult struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	Result        string   `gorm:"not null" json:"result"`
	Difference    float64  `gorm:"not null" json:"difference"`
	ExpectedValue *float64 `json:"expected_value"`
	MeasurementID uint     `gorm:"not null" json:"measurement_id"`
	TestRunID     uint     `gorm:"index;not null" json:"test_run_id"`
}

// Subscription associates a user with an environment for e-mail
// notifications. EmailSuccess nil inherits the environment's contact
// policy setting.
type Subscription struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Username      string `gorm:"index;not null" json:"username"`
	EnvironmentID uint   `gorm:"index;not null" json:"environment_id"`
	EmailSuccess  *bool  `json:"email_success"`
	How           string `gorm:"not null;default:to" json:"how"`
}
