package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// openMalgoDevice is the production DeviceOpener: miniaudio capture via
// malgo, delivering S16LE frames from the device's data callback.
func openMalgoDevice(cfg Config, onData func(pcm []byte)) (Device, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	return &malgoDevice{ctx: malgoCtx, device: device}, nil
}

type malgoDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (d *malgoDevice) Close() error {
	_ = d.device.Stop()
	d.device.Uninit()
	err := d.ctx.Uninit()
	d.ctx.Free()
	return err
}
