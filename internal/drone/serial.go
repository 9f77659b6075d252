package drone

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/vanishcap/internal/event"
	"github.com/banshee-data/vanishcap/internal/monitoring"
)

// serialDriver speaks a line-oriented text protocol to a flight controller
// over a serial RC link:
//
//	> CONNECT            < OK
//	> TKOFF              < OK | ERR <reason>
//	> LAND               < OK | ERR <reason>
//	> RC x y z yaw       (no reply)
//	> TELEM?             < TELEM bat=<pct> h=<m> fly=<0|1>
type serialDriver struct {
	log      *monitoring.Logger
	portName string
	baud     int

	mu   sync.Mutex
	port io.ReadWriteCloser
	rd   *bufio.Reader
}

const serialReplyTimeout = 2 * time.Second

func newSerialDriver(portName string, baud int, log *monitoring.Logger) *serialDriver {
	if baud <= 0 {
		baud = 115200
	}
	return &serialDriver{log: log, portName: portName, baud: baud}
}

func (d *serialDriver) Connect(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.portName, mode)
	if err != nil {
		return driverErr("connect", err)
	}
	if err := port.SetReadTimeout(serialReplyTimeout); err != nil {
		port.Close()
		return driverErr("connect", err)
	}
	d.mu.Lock()
	d.port = port
	d.rd = bufio.NewReader(port)
	d.mu.Unlock()

	if _, err := d.roundTrip("CONNECT"); err != nil {
		d.Disconnect()
		return err
	}
	d.log.Infof("connected to %s at %d baud", d.portName, d.baud)
	return nil
}

func (d *serialDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.rd = nil
	return driverErr("disconnect", err)
}

// send writes one command line without waiting for a reply.
func (d *serialDriver) send(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return driverErr("send", fmt.Errorf("not connected"))
	}
	if _, err := d.port.Write([]byte(line + "\n")); err != nil {
		return driverErr("send", err)
	}
	return nil
}

// roundTrip writes one command line and reads one reply line.
func (d *serialDriver) roundTrip(line string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return "", driverErr(line, fmt.Errorf("not connected"))
	}
	if _, err := d.port.Write([]byte(line + "\n")); err != nil {
		return "", driverErr(line, err)
	}
	reply, err := d.rd.ReadString('\n')
	if err != nil {
		return "", driverErr(line, fmt.Errorf("no reply: %w", err))
	}
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "ERR") {
		return "", driverErr(line, fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(reply, "ERR"))))
	}
	return reply, nil
}

func (d *serialDriver) Takeoff() error {
	_, err := d.roundTrip("TKOFF")
	return err
}

func (d *serialDriver) Land() error {
	_, err := d.roundTrip("LAND")
	return err
}

func (d *serialDriver) SendVelocity(cmd event.Command) error {
	return d.send(fmt.Sprintf("RC %.3f %.3f %.3f %.3f", cmd.X, cmd.Y, cmd.Z, cmd.Yaw))
}

func (d *serialDriver) Telemetry() (Telemetry, error) {
	reply, err := d.roundTrip("TELEM?")
	if err != nil {
		return Telemetry{}, err
	}
	t, err := parseTelemetry(reply)
	if err != nil {
		return Telemetry{}, driverErr("telemetry", err)
	}
	return t, nil
}

// parseTelemetry decodes "TELEM bat=85 h=1.2 fly=1".
func parseTelemetry(line string) (Telemetry, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "TELEM" {
		return Telemetry{}, fmt.Errorf("unexpected telemetry line %q", line)
	}
	var t Telemetry
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return Telemetry{}, fmt.Errorf("bad telemetry field %q", f)
		}
		switch key {
		case "bat":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Telemetry{}, fmt.Errorf("bad battery %q", val)
			}
			t.Battery = n
		case "h":
			h, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return Telemetry{}, fmt.Errorf("bad height %q", val)
			}
			t.Height = h
		case "fly":
			t.Flying = val == "1"
		}
	}
	return t, nil
}
