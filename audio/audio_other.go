//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Sources() ([]Source, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []Source
	for _, d := range devices {
		kind := KindWindow
		if d.IsDefault != 0 {
			kind = KindScreen
		}
		result = append(result, Source{
			ID:          hex.EncodeToString(d.ID.Pointer()[:]),
			DisplayName: d.Name(),
			Kind:        kind,
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(source *Source, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if source != nil {
		idBytes, err := hex.DecodeString(source.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid source ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	mc := &malgoCapture{}
	mc.framer = NewFramer(config.FrameSize, func(frame []float32) {
		cb := mc.callback.Load()
		if cb != nil {
			(*cb)(frame)
		}
	})

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			samples := make([]float32, frameCount)
			for i := range samples {
				bits := binary.LittleEndian.Uint32(data[i*4:])
				samples[i] = math.Float32frombits(bits)
			}
			mc.framer.Push(samples)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	mc.device = dev
	return mc, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	framer   *Framer
	callback atomic.Pointer[FrameCallback]
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.device.Stop()
	c.framer.Flush()
}

func (c *malgoCapture) Close() {
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb FrameCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}
