package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentworker/internal/config"
	"github.com/nextlevelbuilder/agentworker/internal/trackerapi"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and Tracker connectivity health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agentworker doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults will be used)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  State directory:")
	stateDir := config.ExpandHome(cfg.CyrusHome)
	fmt.Printf("    %-14s %s", "Path:", stateDir)
	if err := checkWritable(stateDir); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	repos := cfg.Snapshot()
	fmt.Println()
	fmt.Printf("  Repositories: %d configured\n", len(repos))
	checkedTokens := make(map[string]bool)
	reg := trackerapi.NewRegistry()
	for _, r := range repos {
		status := "active"
		if !r.IsActive {
			status = "inactive"
		}
		fmt.Printf("    %-20s %s (%s)\n", r.ID+":", r.RepositoryPath, status)

		if r.TrackerToken == "" || checkedTokens[r.TrackerToken] {
			continue
		}
		checkedTokens[r.TrackerToken] = true
		checkTrackerToken(reg, r.TrackerToken)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := dir + "/.doctor-write-check"
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkTrackerToken(reg *trackerapi.Registry, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := reg.ClientFor(token)
	teams, err := client.ListTeams(ctx)
	suffix := token
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	if err != nil {
		fmt.Printf("    Tracker token ...%s: UNREACHABLE (%s)\n", suffix, err)
		return
	}
	fmt.Printf("    Tracker token ...%s: OK (%d teams)\n", suffix, len(teams))
}
