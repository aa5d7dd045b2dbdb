// Package probe samples the wireless interface for currently associated
// station addresses.  A probe failure is never fatal to callers: the
// accrual loop skips that cycle and status queries fall back to empty.
package probe

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Probe reports the set of hardware addresses currently associated with
// the access point, upper-cased.
type Probe interface {
	Associated(ctx context.Context) (map[string]struct{}, error)
}

// IW shells out to `iw dev <iface> station dump`, the same sampling the
// original deployment uses on a Raspberry Pi acting as the AP.
type IW struct {
	Interface string
}

func NewIW(iface string) *IW {
	if iface == "" {
		iface = "wlan0"
	}
	return &IW{Interface: iface}
}

func (p *IW) Associated(ctx context.Context) (map[string]struct{}, error) {
	out, err := exec.CommandContext(ctx, "iw", "dev", p.Interface, "station", "dump").Output()
	if err != nil {
		return nil, fmt.Errorf("iw station dump %s: %w", p.Interface, err)
	}
	return ParseStationDump(out), nil
}

// ParseStationDump extracts station MACs from `iw station dump` output.
// Each station block starts with a line like:
//
//	Station aa:bb:cc:dd:ee:ff (on wlan0)
func ParseStationDump(out []byte) map[string]struct{} {
	macs := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "Station") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		macs[strings.ToUpper(fields[1])] = struct{}{}
	}
	return macs
}

// Static always reports a fixed set of addresses.  Useful for dev
// environments without a wireless AP and for tests.
type Static map[string]struct{}

func NewStatic(macs ...string) Static {
	s := make(Static, len(macs))
	for _, m := range macs {
		s[strings.ToUpper(m)] = struct{}{}
	}
	return s
}

func (s Static) Associated(_ context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s))
	for m := range s {
		out[m] = struct{}{}
	}
	return out, nil
}
