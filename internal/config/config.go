// Package config loads the INI-style configuration files for both
// binaries and provides the shared process-lifecycle signal helper.
package config

import (
	"errors"
	"os"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 2 * 1024 * 1024 // 2MB, already generous for an INI file

// EndpointConfig configures cmd/mockaocs.
type EndpointConfig struct {
	Global struct {
		Bind_String        string // host:port the session server listens on
		Tick_Rate_Hz       float64
		Self_Test_Latency_Ms int64
		Log_Level          string
		Log_File           string
		APID               uint16
		Source_ID          uint16
	}
	HK_Structure map[string]*struct {
		Structure_ID uint16
		Interval_Sec float64
		Enabled      bool
		Parameter    []string
	}
}

// ControllerConfig configures cmd/scoectl.
type ControllerConfig struct {
	Global struct {
		Dial_String       string // host:port to connect to
		Reconnect_Period_Ms int64
		Command_Timeout_Ms  int64
		Log_Level           string
		Log_File            string
		APID                uint16
		Source_ID           uint16
		Bolt_Path           string // optional durable point-log path; empty disables it
	}
}

func loadFile(path string, size int64) ([]byte, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > size {
		return nil, errors.New("config: file too large")
	}
	content := make([]byte, fi.Size())
	n, err := fin.Read(content)
	if err != nil {
		return nil, err
	}
	if int64(n) != fi.Size() {
		return nil, errors.New("config: short read")
	}
	return content, nil
}

// LoadEndpointConfig reads and validates an EndpointConfig, applying
// AOCS_SCOE_* environment overrides and defaults for anything unset.
func LoadEndpointConfig(path string) (*EndpointConfig, error) {
	var c EndpointConfig
	c.Global.Tick_Rate_Hz = 80
	c.Global.Self_Test_Latency_Ms = 200
	c.Global.Log_Level = "INFO"
	c.Global.APID = 100
	c.Global.Source_ID = 1

	content, err := loadFile(path, maxConfigSize)
	if err != nil {
		return nil, err
	}
	if err := gcfg.ReadStringInto(&c, string(content)); err != nil {
		return nil, err
	}
	if err := loadEnvVarString(&c.Global.Bind_String, "AOCS_SCOE_BIND", c.Global.Bind_String); err != nil {
		return nil, err
	}
	if c.Global.Bind_String == "" {
		return nil, errors.New("config: Bind-String is required")
	}
	return &c, nil
}

// LoadControllerConfig reads and validates a ControllerConfig.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	var c ControllerConfig
	c.Global.Reconnect_Period_Ms = 5000
	c.Global.Command_Timeout_Ms = 5000
	c.Global.Log_Level = "INFO"
	c.Global.APID = 100
	c.Global.Source_ID = 2

	content, err := loadFile(path, maxConfigSize)
	if err != nil {
		return nil, err
	}
	if err := gcfg.ReadStringInto(&c, string(content)); err != nil {
		return nil, err
	}
	if err := loadEnvVarString(&c.Global.Dial_String, "AOCS_SCOE_DIAL", c.Global.Dial_String); err != nil {
		return nil, err
	}
	if c.Global.Dial_String == "" {
		return nil, errors.New("config: Dial-String is required")
	}
	return &c, nil
}

func loadEnvVarString(cnd *string, envName, defVal string) error {
	if v, ok := os.LookupEnv(envName); ok {
		*cnd = v
		return nil
	}
	if *cnd == "" {
		*cnd = defVal
	}
	return nil
}
