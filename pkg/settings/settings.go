// Package settings holds the dongle's persistent configuration: the
// Fingerprint page (serial number, hardware id/version/revision) and the
// Data page (MNP throttle delays, Hayes escape-guard times) described by
// _examples/original_source/Firmware/common/UserSettings.h. The original
// keeps these in two 256-byte flash/EEPROM pages; this port keeps the
// same two-struct shape but persists them to a Redis hash instead (see
// DESIGN.md, Open Question OQ-5), since a USB dongle built around a host
// Go binary has no flash page of its own to write.
package settings

import (
	"context"
	"fmt"
	"log"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Fingerprint mirrors UserSettings::Fingerprint: identity fields written
// once at manufacturing time via the Hayes "SN" command.
type Fingerprint struct {
	SerialNo         uint32 `cbor:"serial_no"`
	HardwareID       uint16 `cbor:"hardware_id"`
	HardwareVersion  uint16 `cbor:"hardware_version"`
	HardwareRevision uint16 `cbor:"hardware_revision"`
}

// Data mirrors UserSettings::Data: the two register pages the Hayes
// interpreter's S-register commands read and write.
type Data struct {
	MNPTAbsoluteDelay  uint32 `cbor:"mnpt_absolute_delay"`
	MNPTNumCharDelay   uint8  `cbor:"mnpt_num_char_delay"`
	Hayes0EscCodeGuard uint8  `cbor:"hayes0_esc_code_guard_time"`
	Hayes1EscCodeGuard uint8  `cbor:"hayes1_esc_code_guard_time"`
}

// factoryData matches UserSettings.cpp's UserSettings::factory_data
// exactly, including the comment pairing each field to its S-register.
var factoryData = Data{
	MNPTAbsoluteDelay:  400, // S300
	MNPTNumCharDelay:   8,   // S301
	Hayes0EscCodeGuard: 50,  // S12, time in 50ths of a second
	Hayes1EscCodeGuard: 50,
}

const (
	redisKey    = "newtdock:settings"
	fieldData   = "data"
	fieldFinger = "fingerprint"
)

// Settings is the live, in-memory settings object every stage reads
// from and the Hayes interpreter writes to, backed by a Redis hash for
// persistence across restarts the way UserSettings::write()/read() back
// the flash page in the original.
type Settings struct {
	Data        Data
	Fingerprint Fingerprint

	redis *redis.Client
	ctx   context.Context
}

// New loads settings from the Redis hash at addr, falling back to
// factory defaults (and logging why) if Redis is unreachable or the
// hash doesn't exist yet — a fresh dongle has never written anything.
func New(addr, password string, db int) *Settings {
	s := &Settings{
		Data: factoryData,
		ctx:  context.Background(),
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(s.ctx).Err(); err != nil {
		log.Printf("settings: redis unavailable (%v), using factory defaults", err)
		return s
	}
	s.redis = client
	s.read()
	return s
}

// read populates Data/Fingerprint from the Redis hash, keeping whatever
// is already in place (factory defaults) on any decode failure.
func (s *Settings) read() {
	if s.redis == nil {
		return
	}
	if raw, err := s.redis.HGet(s.ctx, redisKey, fieldData).Bytes(); err == nil {
		var d Data
		if err := cbor.Unmarshal(raw, &d); err == nil {
			s.Data = d
		}
	}
	if raw, err := s.redis.HGet(s.ctx, redisKey, fieldFinger).Bytes(); err == nil {
		var f Fingerprint
		if err := cbor.Unmarshal(raw, &f); err == nil {
			s.Fingerprint = f
		}
	}
}

// Write persists the Data page, mirroring UserSettings::write() — the
// base implementation returns OK__NOT_HANDLED since the original only
// overrides it on hardware that actually has flash; here Redis always
// "has flash", so a write failure is a real error instead.
func (s *Settings) Write() error {
	if s.redis == nil {
		return fmt.Errorf("settings: no redis connection")
	}
	raw, err := cbor.Marshal(s.Data)
	if err != nil {
		return err
	}
	return s.redis.HSet(s.ctx, redisKey, fieldData, raw).Err()
}

// WriteSerial mirrors UserSettings::write_serial: programs the
// Fingerprint page's identity fields and persists them immediately.
func (s *Settings) WriteSerial(serial uint32, id, version, revision uint16) error {
	s.Fingerprint.SerialNo = serial
	s.Fingerprint.HardwareID = id
	s.Fingerprint.HardwareVersion = version
	s.Fingerprint.HardwareRevision = revision
	if s.redis == nil {
		return fmt.Errorf("settings: no redis connection")
	}
	raw, err := cbor.Marshal(s.Fingerprint)
	if err != nil {
		return err
	}
	return s.redis.HSet(s.ctx, redisKey, fieldFinger, raw).Err()
}

// Serial, HardwareVersion, and HardwareRevision mirror the Fingerprint
// accessors UserSettings exposes to HayesFilter::send_info.
func (s *Settings) Serial() uint32           { return s.Fingerprint.SerialNo }
func (s *Settings) HardwareVersion() uint16  { return s.Fingerprint.HardwareVersion }
func (s *Settings) HardwareRevision() uint16 { return s.Fingerprint.HardwareRevision }
