// Package hapticlink is a bilateral haptic teleoperation link: an operator moves a
// haptic device on the master side, the slave renders a virtual environment at the
// commanded pose, and the contact force is sent back and displayed on the device.
//
// The loop stays stable under network delay through two interchangeable
// stabilizers, the Time Domain Passivity Approach (TDPA) and Input-to-State Stable
// scattering compensation (ISS), switched at run time from the master.
//
// # Installation
//
//	go install github.com/gwillem/hapticlink/cmd/hapticlink@latest
//
// # Usage
//
// Start the slave, then connect the master to it:
//
//	hapticlink slave --listen :7777
//	hapticlink master --slave 127.0.0.1:7777
//
// Settings come from hapticlink.yml when present, otherwise from the built-in
// defaults: a simulated device and a force field. To use SO-101 arms as leader
// and follower, run setup first:
//
//	hapticlink setup
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/hapticlink: CLI with master, slave and setup commands
//   - pkg/teleop: Master and slave control loops
//   - pkg/control: TDPA energy ledger, ISS compensator and the mode switch
//   - pkg/conditioner: Kalman filter and send-on-change deadband
//   - pkg/protocol: Message layouts, binary codec and stream reassembly
//   - pkg/transport: TCP client and server over the protocol
//   - pkg/queue: Unbounded FIFO and newest-wins mailbox
//   - pkg/device: Haptic device interface and a simulated device
//   - pkg/environment: Force fields rendered by the slave
//   - pkg/robot: SO-101 arms as leader device and follower mirror
//   - pkg/config: YAML configuration
//   - pkg/metric: Prometheus metrics and the HTTP endpoint
//   - pkg/telemetry: WebSocket snapshot stream
//   - pkg/rt: Real-time scheduling of the control thread
package hapticlink
