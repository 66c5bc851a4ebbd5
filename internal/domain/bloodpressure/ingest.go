package bloodpressure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeviceMessage is the JSON payload published by home and clinic monitors.
type DeviceMessage struct {
	PatientID  string    `json:"patient_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	Systolic   int       `json:"systolic"`
	Diastolic  int       `json:"diastolic"`
	HeartRate  *int      `json:"heart_rate,omitempty"`
	MeasuredAt time.Time `json:"measured_at"`
}

// DeviceIngestor stores readings received from devices. Messages are
// expected on topics of the form <prefix>/<device_id>/readings.
type DeviceIngestor struct {
	svc     *Service
	logger  zerolog.Logger
	timeout time.Duration
}

func NewDeviceIngestor(svc *Service, logger zerolog.Logger) *DeviceIngestor {
	return &DeviceIngestor{svc: svc, logger: logger, timeout: 5 * time.Second}
}

// HandleMessage matches the mqtt.MessageHandler signature.
func (d *DeviceIngestor) HandleMessage(topic string, payload []byte) error {
	var msg DeviceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode device message: %w", err)
	}
	pid, err := uuid.Parse(msg.PatientID)
	if err != nil {
		return &ValidationError{Field: "patient_id", Message: "must be a UUID"}
	}
	if msg.DeviceID == "" {
		msg.DeviceID = deviceFromTopic(topic)
	}

	source := SourceDevice
	r := &Reading{
		PatientID:  pid,
		Systolic:   msg.Systolic,
		Diastolic:  msg.Diastolic,
		HeartRate:  msg.HeartRate,
		MeasuredAt: msg.MeasuredAt.UTC(),
		Source:     &source,
	}
	if msg.DeviceID != "" {
		note := "device " + msg.DeviceID
		r.Note = &note
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	res, err := d.svc.RecordReading(ctx, r)
	if err != nil {
		return err
	}
	d.logger.Debug().
		Str("reading_id", res.Reading.ID.String()).
		Str("device_id", msg.DeviceID).
		Str("category", res.Assessment.Category.String()).
		Msg("device reading stored")
	return nil
}

// deviceFromTopic returns the segment before the trailing "readings".
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[len(parts)-1] != "readings" {
		return ""
	}
	return parts[len(parts)-2]
}
