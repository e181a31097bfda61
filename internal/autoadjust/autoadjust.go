// Package autoadjust derives radio and relay tuning from the device's
// current power/motion state, with per-field manual overrides that
// persist until explicitly cleared.
package autoadjust

import (
	"fmt"
	"sync"

	"github.com/scmessenger/core/internal/model"
)

// Output is the full set of derived and override-applied tuning values.
type Output struct {
	Profile model.AdjustmentProfile
	Ble     model.BleAdjustment
	Relay   model.RelayAdjustment
}

// BleOverride holds manual per-field BLE overrides.
type BleOverride struct {
	ScanIntervalMs      *int
	AdvertiseIntervalMs *int
	TxPowerDbm          *int
}

// RelayOverride holds manual per-field relay overrides.
type RelayOverride struct {
	MaxPerHour        *int
	PriorityThreshold *int
	MaxPayloadBytes   *int
}

// Engine computes AdjustmentProfile/BleAdjustment/RelayAdjustment from a
// DeviceProfile, applies any standing overrides, and suppresses
// redundant reapplication via a snapshot hash of its inputs.
type Engine struct {
	mu              sync.Mutex
	profileOverride *model.AdjustmentProfile
	bleOverride     BleOverride
	relayOverride   RelayOverride

	lastSnapshot string
	lastOutput   Output
	onApply      func(Output)
}

// New builds an Engine. onApply, if non-nil, is invoked each time Apply
// sees a device profile or override set that differs from the last
// applied snapshot.
func New(onApply func(Output)) *Engine {
	return &Engine{onApply: onApply}
}

// SetProfileOverride pins the AdjustmentProfile label regardless of
// computed input, until ClearOverrides is called.
func (e *Engine) SetProfileOverride(p model.AdjustmentProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profileOverride = &p
}

// SetBleOverride pins one or more BLE fields; nil fields are left
// computed.
func (e *Engine) SetBleOverride(o BleOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.ScanIntervalMs != nil {
		e.bleOverride.ScanIntervalMs = o.ScanIntervalMs
	}
	if o.AdvertiseIntervalMs != nil {
		e.bleOverride.AdvertiseIntervalMs = o.AdvertiseIntervalMs
	}
	if o.TxPowerDbm != nil {
		e.bleOverride.TxPowerDbm = o.TxPowerDbm
	}
}

// SetRelayOverride pins one or more relay fields; nil fields are left computed.
func (e *Engine) SetRelayOverride(o RelayOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.MaxPerHour != nil {
		e.relayOverride.MaxPerHour = o.MaxPerHour
	}
	if o.PriorityThreshold != nil {
		e.relayOverride.PriorityThreshold = o.PriorityThreshold
	}
	if o.MaxPayloadBytes != nil {
		e.relayOverride.MaxPayloadBytes = o.MaxPayloadBytes
	}
}

// ClearOverrides removes every standing override.
func (e *Engine) ClearOverrides() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profileOverride = nil
	e.bleOverride = BleOverride{}
	e.relayOverride = RelayOverride{}
	e.lastSnapshot = "" // force reapplication on the next Apply
}

// Apply computes tuning for profile, overlays any standing overrides,
// and invokes onApply only if the inputs (device profile and standing
// overrides) differ from the last applied snapshot; otherwise it returns
// the last applied output.
func (e *Engine) Apply(profile model.DeviceProfile) Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := computeBase(profile)
	applyOverrides(&out, e.profileOverride, e.bleOverride, e.relayOverride)

	snapshot := snapshotKey(profile, e.profileOverride, e.bleOverride, e.relayOverride)
	if snapshot == e.lastSnapshot {
		return e.lastOutput
	}
	e.lastSnapshot = snapshot
	e.lastOutput = out
	if e.onApply != nil {
		e.onApply(out)
	}
	return out
}

// computeBase implements the piecewise-threshold derivation: battery
// level sets the coarse profile tier (charging always yields
// performance), motion state modulates BLE duty cycle within the tier.
func computeBase(p model.DeviceProfile) Output {
	var profile model.AdjustmentProfile
	switch {
	case p.IsCharging:
		profile = model.ProfilePerformance
	case p.BatteryPct <= 20:
		profile = model.ProfilePowerSaver
	case p.BatteryPct <= 60:
		profile = model.ProfileBalanced
	default:
		profile = model.ProfilePerformance
	}

	ble := baseBle(profile)
	relay := baseRelay(profile)

	switch p.MotionState {
	case "vehicle":
		ble.ScanIntervalMs = max(ble.ScanIntervalMs/2, 250)
		ble.AdvertiseIntervalMs = max(ble.AdvertiseIntervalMs/2, 150)
	case "still":
		ble.ScanIntervalMs = ble.ScanIntervalMs * 3 / 2
		ble.AdvertiseIntervalMs = ble.AdvertiseIntervalMs * 3 / 2
	}

	return Output{Profile: profile, Ble: ble, Relay: relay}
}

func baseBle(profile model.AdjustmentProfile) model.BleAdjustment {
	switch profile {
	case model.ProfilePowerSaver:
		return model.BleAdjustment{ScanIntervalMs: 5000, AdvertiseIntervalMs: 3000, TxPowerDbm: -12}
	case model.ProfilePerformance:
		return model.BleAdjustment{ScanIntervalMs: 500, AdvertiseIntervalMs: 300, TxPowerDbm: 0}
	default: // balanced
		return model.BleAdjustment{ScanIntervalMs: 2000, AdvertiseIntervalMs: 1000, TxPowerDbm: -4}
	}
}

func baseRelay(profile model.AdjustmentProfile) model.RelayAdjustment {
	switch profile {
	case model.ProfilePowerSaver:
		return model.RelayAdjustment{MaxPerHour: 10, PriorityThreshold: 80, MaxPayloadBytes: 16 * 1024}
	case model.ProfilePerformance:
		return model.RelayAdjustment{MaxPerHour: 300, PriorityThreshold: 0, MaxPayloadBytes: 64 * 1024}
	default: // balanced
		return model.RelayAdjustment{MaxPerHour: 60, PriorityThreshold: 50, MaxPayloadBytes: 32 * 1024}
	}
}

func applyOverrides(out *Output, profile *model.AdjustmentProfile, ble BleOverride, relay RelayOverride) {
	if profile != nil {
		out.Profile = *profile
	}
	if ble.ScanIntervalMs != nil {
		out.Ble.ScanIntervalMs = *ble.ScanIntervalMs
	}
	if ble.AdvertiseIntervalMs != nil {
		out.Ble.AdvertiseIntervalMs = *ble.AdvertiseIntervalMs
	}
	if ble.TxPowerDbm != nil {
		out.Ble.TxPowerDbm = *ble.TxPowerDbm
	}
	if relay.MaxPerHour != nil {
		out.Relay.MaxPerHour = *relay.MaxPerHour
	}
	if relay.PriorityThreshold != nil {
		out.Relay.PriorityThreshold = *relay.PriorityThreshold
	}
	if relay.MaxPayloadBytes != nil {
		out.Relay.MaxPayloadBytes = *relay.MaxPayloadBytes
	}
}

func snapshotKey(p model.DeviceProfile, profile *model.AdjustmentProfile, ble BleOverride, relay RelayOverride) string {
	return fmt.Sprintf("%d|%v|%v|%s|%v|%v|%v|%v|%v|%v|%v",
		p.BatteryPct, p.IsCharging, p.HasWiFi, p.MotionState,
		profile, ble.ScanIntervalMs, ble.AdvertiseIntervalMs, ble.TxPowerDbm,
		relay.MaxPerHour, relay.PriorityThreshold, relay.MaxPayloadBytes)
}
