// Package gpu runs element-wise grid arithmetic on a WebGPU device.
package gpu

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/fluxgrid/detector"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
	err      error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary.
// An adapter whose name or vendor contains $FLUXGRID_ADAPTER is preferred;
// otherwise the high-performance, low-power and default adapters are tried
// in that order.
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.err = ctx.init(os.Getenv(detector.AdapterEnv))
	})
	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("%w: device or queue not initialized", detector.ErrUnavailable)
	}
	return &ctx, nil
}

func (c *Context) init(prefer string) error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("%w: failed to create WebGPU instance", detector.ErrUnavailable)
	}

	if prefer = strings.ToLower(prefer); prefer != "" {
		for _, a := range c.Instance.EnumerateAdapters(nil) {
			info := a.GetInfo()
			if strings.Contains(strings.ToLower(info.Name), prefer) ||
				strings.Contains(strings.ToLower(info.VendorName), prefer) {
				c.Adapter = a
				break
			}
		}
		if c.Adapter == nil {
			slog.Warn("preferred adapter not found", "want", prefer)
		}
	}

	var lastErr error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, lastErr = c.Instance.RequestAdapter(opts)
		if lastErr != nil {
			slog.Debug("adapter request failed", "err", lastErr)
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("%w: all adapter attempts failed: %v", detector.ErrUnavailable, lastErr)
	}

	info := c.Adapter.GetInfo()
	slog.Info("gpu adapter selected", "name", info.Name, "vendor", info.VendorName)

	var err error
	if c.Device, err = c.Adapter.RequestDevice(nil); err != nil {
		return fmt.Errorf("%w: request device: %v", detector.ErrUnavailable, err)
	}
	c.Queue = c.Device.GetQueue()
	return nil
}
