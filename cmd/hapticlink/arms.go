package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/hapticlink/pkg/robot"
)

const (
	scanTimeout = 2 * time.Second
	busTimeout  = 100 * time.Millisecond

	wiggleSteps = 30
	wiggleMs    = 500
)

// foundArm is an SO-101 answering on a serial port. The bus stays open until
// the arm is identified or skipped.
type foundArm struct {
	port   string
	bus    *feetech.Bus
	servos []feetech.FoundServo
}

// probePort opens port and scans it for the six SO-101 servos.
func probePort(port string) (*foundArm, error) {
	bus, err := robot.OpenBus(port, busTimeout)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	servos, err := bus.Scan(ctx, 1, len(robot.AllMotors()))
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan %s: %w", port, err)
	}
	if !hasAllJoints(servos) {
		bus.Close()
		return nil, fmt.Errorf("%s: not an SO-101 arm (want servo IDs 1-6, found %d servos)", port, len(servos))
	}
	return &foundArm{port: port, bus: bus, servos: servos}, nil
}

// scanArms probes every serial port and keeps the ones with an arm attached.
func scanArms() []*foundArm {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}
	var arms []*foundArm
	for _, port := range ports {
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		arm, err := probePort(port)
		if err != nil {
			continue
		}
		fmt.Printf("  Found SO-101 arm on %s\n", port)
		arms = append(arms, arm)
	}
	return arms
}

// hasAllJoints reports whether servos are exactly the IDs of the SO-101 joints.
func hasAllJoints(servos []feetech.FoundServo) bool {
	joints := robot.AllMotors()
	if len(servos) != len(joints) {
		return false
	}
	seen := make(map[int]bool, len(servos))
	for _, s := range servos {
		seen[s.ID] = true
	}
	for _, name := range joints {
		if !seen[robot.ServoID(name)] {
			return false
		}
	}
	return true
}

func (a *foundArm) servo(name robot.MotorName) *feetech.Servo {
	id := robot.ServoID(name)
	for _, s := range a.servos {
		if s.ID == id {
			return feetech.NewServo(a.bus, s.ID, s.Model)
		}
	}
	return nil
}

// wiggle swings the shoulder pan out and back so the operator can tell which
// arm sits on the port.
func (a *foundArm) wiggle(ctx context.Context) error {
	pan := a.servo(robot.ShoulderPan)
	if pan == nil {
		return fmt.Errorf("%s: no shoulder_pan servo", a.port)
	}
	home, err := pan.Position(ctx)
	if err != nil {
		return fmt.Errorf("read shoulder_pan: %w", err)
	}
	if err := pan.Enable(ctx); err != nil {
		return fmt.Errorf("enable shoulder_pan: %w", err)
	}
	defer pan.Disable(ctx)

	settle := (wiggleMs + 100) * time.Millisecond
	for _, goal := range []int{home + wiggleSteps, home - wiggleSteps, home} {
		pan.SetPositionWithTime(ctx, goal, wiggleMs)
		time.Sleep(settle)
	}
	return nil
}

// askRole wiggles arm and asks the operator what it is. An empty role means
// the arm is skipped.
func askRole(arm *foundArm, needLeader, needFollower bool) string {
	fmt.Printf("\n  Wiggling arm on %s...\n", arm.port)
	if err := arm.wiggle(context.Background()); err != nil {
		fmt.Printf("  %v\n", err)
		return ""
	}

	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (master input device, moved by hand)", "leader"))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (mirrors the slave's rendered pose)", "follower"))
	}
	options = append(options, huh.NewOption("Skip this arm", ""))

	var role string
	pick := huh.NewSelect[string]().
		Title(fmt.Sprintf("Which arm is on %s?", arm.port)).
		Description("The arm that just wiggled").
		Options(options...).
		Value(&role)
	if err := huh.NewForm(huh.NewGroup(pick)).Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return role
}

// assignRoles walks the found arms until both roles are taken. Every bus is
// closed on return.
func assignRoles(arms []*foundArm) (leaderPort, followerPort string) {
	for _, arm := range arms {
		if leaderPort == "" || followerPort == "" {
			switch askRole(arm, leaderPort == "", followerPort == "") {
			case "leader":
				leaderPort = arm.port
			case "follower":
				followerPort = arm.port
			}
		}
		arm.bus.Close()
	}
	return leaderPort, followerPort
}
