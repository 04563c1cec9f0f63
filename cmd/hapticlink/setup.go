package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	ScanOnly            bool   `long:"scan-only" description:"List the arms found and exit"`
	LeaderCalibration   string `long:"leader-calibration" description:"Import the leader calibration from a LeRobot JSON file instead of recording it"`
	FollowerCalibration string `long:"follower-calibration" description:"Import the follower calibration from a LeRobot JSON file instead of recording it"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("hapticlink setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	// Keep whatever the file already holds; setup only touches the arm sections.
	cfg, err := config.LoadOrDefault(opts.Config)
	if err != nil {
		fail(os.Stderr, "Error loading %s: %v", opts.Config, err)
	}

	fmt.Println("Scanning for robot arms...")
	fmt.Println()
	arms := scanArms()
	if len(arms) == 0 {
		fmt.Println("No SO-101 arms found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		os.Exit(1)
	}

	if c.ScanOnly {
		for _, arm := range arms {
			arm.bus.Close()
		}
		fmt.Printf("\nFound %d arm(s).\n", len(arms))
		return nil
	}

	fmt.Printf("Found %d arm(s). Let's identify them...\n\n", len(arms))
	leaderPort, followerPort := assignRoles(arms)
	fmt.Println()
	fmt.Println(successStyle.Render("Arms identified:"))
	fmt.Printf("  Leader:   %s\n", orNone(leaderPort))
	fmt.Printf("  Follower: %s\n", orNone(followerPort))
	if leaderPort == "" && followerPort == "" {
		fmt.Println("No arms were identified.")
		os.Exit(1)
	}

	if leaderPort != "" {
		cfg.Device.Kind = "so101"
	}
	steps := []struct {
		name, port, importPath string
		arm                    *robot.ArmConfig
	}{
		{"leader", leaderPort, c.LeaderCalibration, &cfg.Device.Leader},
		{"follower", followerPort, c.FollowerCalibration, &cfg.Follower},
	}
	for _, st := range steps {
		if st.port == "" {
			continue
		}
		st.arm.Port = st.port
		if err := c.calibrate(st.arm, st.name, st.importPath); err != nil {
			fail(os.Stderr, "Error calibrating %s: %v", st.name, err)
		}
		// Save after each arm so a failed second calibration keeps the first.
		if err := cfg.SaveTo(opts.Config); err != nil {
			fail(os.Stderr, "Error saving config: %v", err)
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	if leaderPort != "" {
		fmt.Println("Operator side: " + headerStyle.Render("hapticlink master"))
	}
	if followerPort != "" {
		fmt.Println("Remote side:   " + headerStyle.Render("hapticlink slave"))
	}
	return nil
}

func (c *SetupCommand) calibrate(arm *robot.ArmConfig, name, importPath string) error {
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Calibrating " + name + " arm ━━━"))
	fmt.Println()

	if arm.Scale == 0 {
		arm.Scale = robot.DefaultScale
	}
	var (
		cal robot.Calibration
		err error
	)
	if importPath != "" {
		cal, err = robot.ImportCalibration(importPath)
	} else {
		cal, err = recordRanges(arm.Port)
	}
	if err != nil {
		return err
	}
	arm.Calibration = cal
	fmt.Printf("%s arm: %d joints calibrated.\n", name, len(cal))
	return nil
}

func orNone(port string) string {
	if port == "" {
		return "(none)"
	}
	return port
}
