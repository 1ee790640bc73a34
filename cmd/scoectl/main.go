// Command scoectl is the controller-side CLI: it dials the mock AOCS
// endpoint, issues one telecommand (or prints status/telemetry), and
// exits. Long-running use (continuous telemetry decode, durable point
// logging) is driven by the -watch flag, which keeps the client running
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aurora-scoe/aocs-scoe/internal/client"
	"github.com/aurora-scoe/aocs-scoe/internal/config"
	"github.com/aurora-scoe/aocs-scoe/internal/scoelog"
	"github.com/aurora-scoe/aocs-scoe/internal/telemetry"
)

const defaultConfigLoc = `/opt/aocs-scoe/etc/scoectl.conf`

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	watch   = flag.Bool("watch", false, "keep running, printing the telemetry snapshot every second, until interrupted")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadControllerConfig(*confLoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := scoelog.NewStderrLogger(cfg.Global.Log_File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.Global.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
			lg.Fatal("invalid Log-Level", scoelog.KV("level", cfg.Global.Log_Level), scoelog.KV("err", err.Error()))
		}
	}

	cache := telemetry.NewCache()
	decoder := telemetry.NewDecoder(cache, lg)
	if cfg.Global.Bolt_Path != "" {
		w, err := telemetry.OpenBoltPointWriter(cfg.Global.Bolt_Path)
		if err != nil {
			lg.Fatal("failed to open point log", scoelog.KV("path", cfg.Global.Bolt_Path), scoelog.KV("err", err.Error()))
		}
		defer w.Close()
		decoder.AddSink(w)
	}

	c := client.New(client.Config{
		DialString:      cfg.Global.Dial_String,
		ReconnectPeriod: time.Duration(cfg.Global.Reconnect_Period_Ms) * time.Millisecond,
		APID:            cfg.Global.APID,
		SourceID:        cfg.Global.Source_ID,
		Logger:          lg,
		Telemetry:       decoder,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if !waitConnected(c, 5*time.Second) {
		fmt.Fprintln(os.Stderr, "timed out waiting to connect")
		os.Exit(1)
	}

	if *watch {
		runWatch(ctx, c, cache)
		return
	}

	if err := runCommand(ctx, c, cache, args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: scoectl [-config-file path] [-watch] <command> [args...]

commands:
  status
  telemetry
  send <svc> <sub> [hex-payload]
  startsim | stopsim | resetsim | commit | selftest
  setrwtorque <i> <newtons-meters>
  setthruster <i> <on|off>
  settorquerod <i> <amp-m2>
  setsada <i> <degrees>
  enablehk <id> | disablehk <id> | requesthk <id>`)
}

func waitConnected(c *client.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status().Connected {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func runWatch(ctx context.Context, c *client.Client, cache *telemetry.Cache) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := c.Status()
			fmt.Printf("connected=%v lastUpdateSeconds=%.2f telemetryCount=%d\n", st.Connected, st.LastUpdateSeconds, st.TelemetryCount)
			for name, val := range cache.Snapshot() {
				fmt.Printf("  %s = %v\n", name, val)
			}
		}
	}
}

func runCommand(ctx context.Context, c *client.Client, cache *telemetry.Cache, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		st := c.Status()
		fmt.Printf("connected=%v lastUpdateSeconds=%.2f telemetryCount=%d\n", st.Connected, st.LastUpdateSeconds, st.TelemetryCount)
		return nil
	case "telemetry":
		for name, val := range cache.Snapshot() {
			fmt.Printf("%s = %v\n", name, val)
		}
		return nil
	case "send":
		return cmdSend(ctx, c, rest)
	case "startsim":
		return report(c.StartSim(ctx))
	case "stopsim":
		return report(c.StopSim(ctx))
	case "resetsim":
		return report(c.ResetSim(ctx))
	case "commit":
		return report(c.CommitStagedParameters(ctx))
	case "selftest":
		return report(c.SelfTest(ctx))
	case "setrwtorque":
		return cmdSetRWTorque(ctx, c, rest)
	case "setthruster":
		return cmdSetThruster(ctx, c, rest)
	case "settorquerod":
		return cmdSetTorqueRod(ctx, c, rest)
	case "setsada":
		return cmdSetSADA(ctx, c, rest)
	case "enablehk":
		return cmdHK(ctx, rest, c.EnableHK)
	case "disablehk":
		return cmdHK(ctx, rest, c.DisableHK)
	case "requesthk":
		return cmdHK(ctx, rest, c.RequestHK)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func report(ok bool, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func cmdSend(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: send <svc> <sub> [hex-payload]")
	}
	svc, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("svc: %w", err)
	}
	sub, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return fmt.Errorf("sub: %w", err)
	}
	var payload []byte
	if len(args) > 2 {
		payload, err = parseHex(args[2])
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	}
	return report(c.SendRaw(ctx, uint8(svc), uint8(sub), payload))
}

func parseHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}

func cmdSetRWTorque(ctx context.Context, c *client.Client, args []string) error {
	i, torque, err := parseIndexAndFloat(args)
	if err != nil {
		return err
	}
	return report(c.SetRWTorque(ctx, i, float32(torque)))
}

func cmdSetThruster(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: setthruster <i> <on|off>")
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("i: %w", err)
	}
	firing := args[1] == "on"
	return report(c.SetThruster(ctx, i, firing))
}

func cmdSetTorqueRod(ctx context.Context, c *client.Client, args []string) error {
	i, dipole, err := parseIndexAndFloat(args)
	if err != nil {
		return err
	}
	return report(c.SetTorqueRod(ctx, i, float32(dipole)))
}

func cmdSetSADA(ctx context.Context, c *client.Client, args []string) error {
	i, deg, err := parseIndexAndFloat(args)
	if err != nil {
		return err
	}
	return report(c.SetSADA(ctx, i, float32(deg)))
}

func parseIndexAndFloat(args []string) (int, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("usage: <i> <value>")
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("i: %w", err)
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("value: %w", err)
	}
	return i, v, nil
}

func cmdHK(ctx context.Context, args []string, f func(context.Context, uint16) (bool, error)) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	return report(f(ctx, uint16(id)))
}
