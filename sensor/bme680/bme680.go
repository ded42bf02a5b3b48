// Package bme680 implements a register-level driver and a detection/warmup
// controller for a BME680 environmental sensor on a shared I2C bus.
// Compensation follows the floating-point formulas of the Bosch BME680
// datasheet; register access follows the same handle-per-transaction shape
// the bus interface expects.
package bme680

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/envsensing/envnode/board"
	"github.com/envsensing/envnode/sensor"
)

const (
	// DefaultAddr and AltAddr are the two addresses the chip can strap to,
	// probed in this order.
	DefaultAddr = 0x76
	AltAddr     = 0x77

	chipID = 0x61

	// Register addresses.
	regChipID     = 0xD0
	regReset      = 0xE0
	regCtrlHum    = 0x72
	regCtrlMeas   = 0x74
	regConfig     = 0x75
	regCtrlGas1   = 0x71
	regGasWait0   = 0x64
	regResHeat0   = 0x5A
	regMeasStatus = 0x1D
	regCoeff1     = 0x89 // 25 bytes
	regCoeff2     = 0xE1 // 16 bytes
	regResHeatVal = 0x00
	regResHeatRng = 0x02
	regRangeSwErr = 0x04

	softResetCmd = 0xB6

	// Fixed acquisition settings, applied once per (re)detection:
	// temperature 8x, humidity 2x, pressure 4x, IIR filter 3,
	// heater 320°C for 150ms.
	osrsTemp8x     = 0b100
	osrsHum2x      = 0b010
	osrsPress4x    = 0b011
	filterCoeff3   = 0b010
	heaterTargetC  = 320
	heaterDuration = 150 * time.Millisecond

	modeSleep  = 0b00
	modeForced = 0b01

	// statusNewData marks a completed conversion in meas_status_0.
	statusNewData = 1 << 7

	// measurePoll/measureWait bound the wait for a forced conversion.
	measurePoll = 10 * time.Millisecond
	measureWait = 500 * time.Millisecond
)

// Gas range constants from the datasheet's resistance calculation.
var (
	gasK1 = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	gasK2 = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

type calibration struct {
	t1         float64
	t2, t3     float64
	p1         float64
	p2, p3     float64
	p4, p5     float64
	p6, p7     float64
	p8, p9     float64
	p10        float64
	h1, h2     float64
	h3, h4     float64
	h5, h6, h7 float64
	gh1, gh2   float64
	gh3        float64
	heatRange  float64
	heatVal    float64
	rangeSwErr float64
}

// Device is a detected BME680 on a specific bus address.
type Device struct {
	bus     board.I2C
	addr    byte
	logger  golog.Logger
	cal     calibration
	ambient float64 // last compensated temperature, for heater math
}

// Probe looks for the chip at each of the given addresses, in order, and
// returns a device for the first one whose chip ID matches.
func Probe(ctx context.Context, bus board.I2C, addrs []byte, logger golog.Logger) (*Device, error) {
	for _, addr := range addrs {
		if addr == 0 {
			continue
		}
		handle, err := bus.OpenHandle(addr)
		if err != nil {
			continue
		}
		id, err := handle.ReadByteData(ctx, regChipID)
		goutils.UncheckedErrorFunc(handle.Close)
		if err != nil {
			logger.Debugf("no response at 0x%02X: %v", addr, err)
			continue
		}
		if id != chipID {
			logger.Debugf("device at 0x%02X has chip id 0x%02X, want 0x%02X", addr, id, chipID)
			continue
		}
		logger.Infof("bme680 detected at 0x%02X", addr)
		return &Device{bus: bus, addr: addr, logger: logger, ambient: 25}, nil
	}
	return nil, errors.New("bme680 not detected at any address")
}

// Configure soft-resets the chip, loads its calibration and applies the
// fixed oversampling/filter/heater settings. Called once per (re)detection,
// not per read.
func (d *Device) Configure(ctx context.Context) error {
	handle, err := d.bus.OpenHandle(d.addr)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(handle.Close)

	if err := handle.WriteByteData(ctx, regReset, softResetCmd); err != nil {
		return errors.Wrap(err, "bme680 soft reset")
	}
	if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
		return ctx.Err()
	}
	if err := d.readCalibration(ctx, handle); err != nil {
		return errors.Wrap(err, "bme680 calibration")
	}

	if err := handle.WriteByteData(ctx, regCtrlHum, osrsHum2x); err != nil {
		return err
	}
	// osrs_t and osrs_p are set together; mode stays sleep until a read.
	ctrlMeas := byte(osrsTemp8x<<5 | osrsPress4x<<2 | modeSleep)
	if err := handle.WriteByteData(ctx, regCtrlMeas, ctrlMeas); err != nil {
		return err
	}
	if err := handle.WriteByteData(ctx, regConfig, filterCoeff3<<2); err != nil {
		return err
	}

	if err := handle.WriteByteData(ctx, regGasWait0, encodeGasWait(heaterDuration)); err != nil {
		return err
	}
	if err := handle.WriteByteData(ctx, regResHeat0, d.heaterSetPoint(heaterTargetC)); err != nil {
		return err
	}
	// run_gas on, heater profile 0.
	return handle.WriteByteData(ctx, regCtrlGas1, 1<<4)
}

// Read triggers one forced-mode conversion and returns the compensated
// sample. A chip still busy with a heater-driven measurement surfaces as an
// error; the caller keeps its last-known-good values.
func (d *Device) Read(ctx context.Context) (sensor.EnvironmentalSample, error) {
	var zero sensor.EnvironmentalSample
	handle, err := d.bus.OpenHandle(d.addr)
	if err != nil {
		return zero, err
	}
	defer goutils.UncheckedErrorFunc(handle.Close)

	ctrlMeas := byte(osrsTemp8x<<5 | osrsPress4x<<2 | modeForced)
	if err := handle.WriteByteData(ctx, regCtrlMeas, ctrlMeas); err != nil {
		return zero, err
	}

	deadline := time.Now().Add(measureWait)
	for {
		status, err := handle.ReadByteData(ctx, regMeasStatus)
		if err != nil {
			return zero, err
		}
		if status&statusNewData != 0 {
			break
		}
		if time.Now().After(deadline) {
			return zero, errors.New("bme680 measurement still in progress")
		}
		if !goutils.SelectContextOrWait(ctx, measurePoll) {
			return zero, ctx.Err()
		}
	}

	// field 0 data block: press 0x1F..0x21, temp 0x22..0x24, hum 0x25..0x26,
	// gas 0x2A..0x2B.
	buf, err := handle.ReadBlockData(ctx, regMeasStatus, 15)
	if err != nil {
		return zero, err
	}
	if len(buf) != 15 {
		return zero, errors.Errorf("bme680 field read returned %d bytes, want 15", len(buf))
	}

	adcPress := float64(uint32(buf[2])<<12 | uint32(buf[3])<<4 | uint32(buf[4])>>4)
	adcTemp := float64(uint32(buf[5])<<12 | uint32(buf[6])<<4 | uint32(buf[7])>>4)
	adcHum := float64(uint16(buf[8])<<8 | uint16(buf[9]))
	adcGas := float64(uint16(buf[13])<<2 | uint16(buf[14])>>6)
	gasRange := int(buf[14] & 0x0F)

	tempC, tFine := d.compensateTemperature(adcTemp)
	d.ambient = tempC
	s := sensor.EnvironmentalSample{
		TemperatureC:     tempC,
		HumidityPct:      d.compensateHumidity(adcHum, tempC),
		PressureHPa:      d.compensatePressure(adcPress, tFine) / 100.0,
		GasResistanceOhm: d.compensateGas(adcGas, gasRange),
	}
	return s, nil
}

// Address returns the bus address the device was detected at.
func (d *Device) Address() byte { return d.addr }

func (d *Device) compensateTemperature(adc float64) (tempC, tFine float64) {
	var1 := (adc/16384.0 - d.cal.t1/1024.0) * d.cal.t2
	var2 := (adc/131072.0 - d.cal.t1/8192.0) * (adc/131072.0 - d.cal.t1/8192.0) * d.cal.t3 * 16.0
	tFine = var1 + var2
	return tFine / 5120.0, tFine
}

func (d *Device) compensatePressure(adc, tFine float64) float64 {
	var1 := tFine/2.0 - 64000.0
	var2 := var1 * var1 * (d.cal.p6 / 131072.0)
	var2 += var1 * d.cal.p5 * 2.0
	var2 = var2/4.0 + d.cal.p4*65536.0
	var1 = (d.cal.p3*var1*var1/16384.0 + d.cal.p2*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * d.cal.p1
	if var1 == 0 {
		return 0
	}
	press := 1048576.0 - adc
	press = (press - var2/4096.0) * 6250.0 / var1
	var1 = d.cal.p9 * press * press / 2147483648.0
	var2 = press * (d.cal.p8 / 32768.0)
	var3 := (press / 256.0) * (press / 256.0) * (press / 256.0) * (d.cal.p10 / 131072.0)
	return press + (var1+var2+var3+d.cal.p7*128.0)/16.0
}

func (d *Device) compensateHumidity(adc, tempC float64) float64 {
	var1 := adc - (d.cal.h1*16.0 + d.cal.h3/2.0*tempC)
	var2 := var1 * (d.cal.h2 / 262144.0 * (1.0 + d.cal.h4/16384.0*tempC + d.cal.h5/1048576.0*tempC*tempC))
	var3 := d.cal.h6 / 16384.0
	var4 := d.cal.h7 / 2097152.0
	hum := var2 + (var3+var4*tempC)*var2*var2
	switch {
	case hum > 100:
		return 100
	case hum < 0:
		return 0
	}
	return hum
}

func (d *Device) compensateGas(adc float64, gasRange int) float64 {
	var1 := 1340.0 + 5.0*d.cal.rangeSwErr
	var2 := var1 * (1.0 + gasK1[gasRange]/100.0)
	var3 := 1.0 + gasK2[gasRange]/100.0
	return 1.0 / (var3 * 0.000000125 * float64(int(1)<<gasRange) * ((adc-512.0)/var2 + 1.0))
}

// heaterSetPoint converts a target heater temperature to the res_heat
// register encoding, using the chip's heater calibration and the last
// ambient temperature.
func (d *Device) heaterSetPoint(targetC float64) byte {
	var1 := d.cal.gh1/16.0 + 49.0
	var2 := d.cal.gh2/32768.0*0.0005 + 0.00235
	var3 := d.cal.gh3 / 1024.0
	var4 := var1 * (1.0 + var2*targetC)
	var5 := var4 + var3*d.ambient
	resHeat := 3.4 * (var5*(4.0/(4.0+d.cal.heatRange))*(1.0/(1.0+d.cal.heatVal*0.002)) - 25.0)
	if resHeat < 0 {
		resHeat = 0
	}
	if resHeat > 255 {
		resHeat = 255
	}
	return byte(resHeat)
}

// encodeGasWait packs a heater wait duration into gas_wait_0: a 6-bit value
// with a 2-bit x1/x4/x16/x64 multiplier.
func encodeGasWait(dur time.Duration) byte {
	ms := dur.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	var mult byte
	for ms > 0x3F && mult < 3 {
		ms /= 4
		mult++
	}
	if ms > 0x3F {
		ms = 0x3F
	}
	return byte(ms) | mult<<6
}

func (d *Device) readCalibration(ctx context.Context, handle board.I2CHandle) error {
	c1, err := handle.ReadBlockData(ctx, regCoeff1, 25)
	if err != nil {
		return err
	}
	c2, err := handle.ReadBlockData(ctx, regCoeff2, 16)
	if err != nil {
		return err
	}
	if len(c1) != 25 || len(c2) != 16 {
		return errors.New("short calibration read")
	}
	coeff := make([]byte, 0, 41)
	coeff = append(coeff, c1...)
	coeff = append(coeff, c2...)

	u16 := func(lsb, msb int) float64 { return float64(uint16(coeff[lsb]) | uint16(coeff[msb])<<8) }
	s16 := func(lsb, msb int) float64 { return float64(int16(uint16(coeff[lsb]) | uint16(coeff[msb])<<8)) }
	s8 := func(idx int) float64 { return float64(int8(coeff[idx])) }

	d.cal.t1 = u16(33, 34)
	d.cal.t2 = s16(1, 2)
	d.cal.t3 = s8(3)
	d.cal.p1 = u16(5, 6)
	d.cal.p2 = s16(7, 8)
	d.cal.p3 = s8(9)
	d.cal.p4 = s16(11, 12)
	d.cal.p5 = s16(13, 14)
	d.cal.p6 = s8(16)
	d.cal.p7 = s8(15)
	d.cal.p8 = s16(19, 20)
	d.cal.p9 = s16(21, 22)
	d.cal.p10 = float64(coeff[23])
	d.cal.h1 = float64(uint16(coeff[27])<<4 | uint16(coeff[26])&0x0F)
	d.cal.h2 = float64(uint16(coeff[25])<<4 | uint16(coeff[26])>>4)
	d.cal.h3 = s8(28)
	d.cal.h4 = s8(29)
	d.cal.h5 = s8(30)
	d.cal.h6 = float64(coeff[31])
	d.cal.h7 = s8(32)
	d.cal.gh1 = s8(37)
	d.cal.gh2 = s16(35, 36)
	d.cal.gh3 = s8(38)

	heatRange, err := handle.ReadByteData(ctx, regResHeatRng)
	if err != nil {
		return err
	}
	d.cal.heatRange = float64((heatRange & 0x30) >> 4)

	heatVal, err := handle.ReadByteData(ctx, regResHeatVal)
	if err != nil {
		return err
	}
	d.cal.heatVal = float64(int8(heatVal))

	swErr, err := handle.ReadByteData(ctx, regRangeSwErr)
	if err != nil {
		return err
	}
	d.cal.rangeSwErr = float64(int8(swErr&0xF0) / 16)
	return nil
}
