package submission

import (
	"context"
	"fmt"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
)

// DataModel identifies the appointment record shape in the store.
type DataModel string

const (
	// ModelDevice stores one record per device and day with a nested users list.
	ModelDevice DataModel = "device"
	// ModelCenter stores one record per appointment with a single owning user.
	ModelCenter DataModel = "center"
)

// Directory resolves appointment ownership from the appointments collection.
type Directory interface {
	// AppointmentOwner returns the user owning appointmentID.
	AppointmentOwner(ctx context.Context, appointmentID string) (owner string, found bool, err error)
	// ResolveUser returns the appointment the user resolves to when submitting
	// for appointmentID. found is false when the user holds no appointment.
	ResolveUser(ctx context.Context, userID, appointmentID string) (resolved string, found bool, err error)
}

// NewDirectory returns the Directory for model over store.
func NewDirectory(model DataModel, store docstore.Store) (Directory, error) {
	switch model {
	case ModelDevice:
		return deviceDirectory{store: store}, nil
	case ModelCenter:
		return centerDirectory{store: store}, nil
	default:
		return nil, fmt.Errorf("unknown data model %q", model)
	}
}

type userEntry struct {
	userID        string
	appointmentID string
}

// deviceDirectory flattens the users of every device appointment.
type deviceDirectory struct {
	store docstore.Store
}

func (d deviceDirectory) entries(ctx context.Context) ([]userEntry, error) {
	docs, err := d.store.FindMany(ctx, docstore.Appointments, nil)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	var out []userEntry
	for _, doc := range docs {
		users, _ := doc["users"].([]any)
		for _, u := range users {
			m, ok := u.(map[string]any)
			if !ok {
				continue
			}
			user := docstore.Document(m)
			out = append(out, userEntry{userID: user.String("user_id"), appointmentID: user.String("appointment_id")})
		}
	}
	return out, nil
}

func (d deviceDirectory) AppointmentOwner(ctx context.Context, appointmentID string) (string, bool, error) {
	entries, err := d.entries(ctx)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.appointmentID == appointmentID {
			return e.userID, true, nil
		}
	}
	return "", false, nil
}

// ResolveUser picks the user's first entry across all devices; a user booked
// twice resolves to the earlier appointment only.
func (d deviceDirectory) ResolveUser(ctx context.Context, userID, _ string) (string, bool, error) {
	entries, err := d.entries(ctx)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.userID == userID {
			return e.appointmentID, true, nil
		}
	}
	return "", false, nil
}

// centerDirectory reads appointments keyed directly by appointment identifier.
type centerDirectory struct {
	store docstore.Store
}

func (c centerDirectory) AppointmentOwner(ctx context.Context, appointmentID string) (string, bool, error) {
	doc, ok, err := c.store.FindOne(ctx, docstore.Appointments, docstore.Where("appointmentId", appointmentID))
	if err != nil {
		return "", false, fmt.Errorf("find appointment: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return doc.String("userId"), true, nil
}

// ResolveUser resolves to appointmentID when the user owns it, otherwise to
// the user's first appointment.
func (c centerDirectory) ResolveUser(ctx context.Context, userID, appointmentID string) (string, bool, error) {
	docs, err := c.store.FindMany(ctx, docstore.Appointments, docstore.Where("userId", userID))
	if err != nil {
		return "", false, fmt.Errorf("find user appointments: %w", err)
	}
	if len(docs) == 0 {
		return "", false, nil
	}
	for _, doc := range docs {
		if doc.String("appointmentId") == appointmentID {
			return appointmentID, true, nil
		}
	}
	return docs[0].String("appointmentId"), true, nil
}
