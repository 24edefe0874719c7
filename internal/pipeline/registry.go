package pipeline

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

const schedulesBucket = "schedules"

// Schedule is one registered periodic chain
type Schedule struct {
	Name         string     `json:"name"`
	Organization string     `json:"organization"`
	Repository   string     `json:"repository"`
	Spec         string     `json:"spec"`
	CreatedAt    time.Time  `json:"created_at"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
}

// ScheduleName is the registry key of a target's schedule
func ScheduleName(target models.Target) string {
	return "devgraph:" + target.String()
}

// ScheduleRegistry persists schedules in a bbolt file so registration survives restarts
type ScheduleRegistry struct {
	db     *bolt.DB
	logger logrus.FieldLogger
}

// OpenScheduleRegistry opens or creates the registry at path
func OpenScheduleRegistry(path string, logger logrus.FieldLogger) (*ScheduleRegistry, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.StoreErrorf(err, "failed to open schedule registry %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(schedulesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.StoreError(err, "failed to create schedule bucket")
	}
	return &ScheduleRegistry{db: db, logger: logger.WithField("component", "schedule_registry")}, nil
}

// Register stores s unless a schedule of the same name exists. It reports whether
// s was created; an existing schedule is left untouched.
func (r *ScheduleRegistry) Register(s Schedule) (bool, error) {
	if s.Name == "" || s.Spec == "" {
		return false, errors.ValidationErrorf("schedule needs a name and a spec")
	}
	created := false
	err := r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(schedulesBucket))
		if bucket.Get([]byte(s.Name)) != nil {
			return nil
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		created = true
		return bucket.Put([]byte(s.Name), data)
	})
	if err != nil {
		return false, errors.StoreErrorf(err, "failed to register schedule %s", s.Name)
	}
	if created {
		r.logger.WithFields(logrus.Fields{"schedule": s.Name, "spec": s.Spec}).Info("schedule registered")
	}
	return created, nil
}

// Get returns the schedule of name, or nil
func (r *ScheduleRegistry) Get(name string) (*Schedule, error) {
	var out *Schedule
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(schedulesBucket)).Get([]byte(name))
		if data == nil {
			return nil
		}
		out = &Schedule{}
		return json.Unmarshal(data, out)
	})
	if err != nil {
		return nil, errors.StoreErrorf(err, "failed to read schedule %s", name)
	}
	return out, nil
}

// List returns every schedule ordered by name
func (r *ScheduleRegistry) List() ([]Schedule, error) {
	var out []Schedule
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(schedulesBucket)).ForEach(func(_, v []byte) error {
			var s Schedule
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, errors.StoreError(err, "failed to list schedules")
	}
	return out, nil
}

// RecordRun stores the time and outcome of a schedule's latest run
func (r *ScheduleRegistry) RecordRun(name string, at time.Time, status string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(schedulesBucket))
		data := bucket.Get([]byte(name))
		if data == nil {
			return errors.MissingReferenceErrorf("schedule %s not registered", name)
		}
		var s Schedule
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		at = at.UTC()
		s.LastRunAt = &at
		s.LastStatus = status
		updated, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(name), updated)
	})
	if err != nil && !errors.IsType(err, errors.ErrorTypeMissingReference) {
		return errors.StoreErrorf(err, "failed to record run of %s", name)
	}
	return err
}

// Close closes the registry file
func (r *ScheduleRegistry) Close() error {
	return r.db.Close()
}
