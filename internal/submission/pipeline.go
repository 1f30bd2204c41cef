package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
	"github.com/andresaa/api-examen-conduccion/internal/model"
)

// WriteIntent is a submission that passed every check and may be persisted.
type WriteIntent struct {
	UserID        string
	AppointmentID string
	TestType      model.TestType
	Result        map[string]any
	Notes         *string
	PerformedAt   *string
	StartPcMac    *string
	EndPcMac      *string
}

// Key is the uniqueness key of the intent.
func (w WriteIntent) Key() string {
	return lockKey(w.AppointmentID, w.TestType)
}

func lockKey(appointmentID string, tt model.TestType) string {
	return appointmentID + "\x00" + string(tt)
}

// Pipeline runs the ordered, fail-fast submission checks. It only reads the store.
type Pipeline struct {
	store docstore.Store
	dir   Directory
}

// NewPipeline builds a pipeline over store using dir for appointment ownership.
func NewPipeline(store docstore.Store, dir Directory) *Pipeline {
	return &Pipeline{store: store, dir: dir}
}

// Validate runs every check in order. A *Rejection is returned for caller
// errors; any other error is an infrastructure failure.
func (p *Pipeline) Validate(ctx context.Context, sub Submission) (WriteIntent, error) {
	intent, rej := CheckPayload(sub)
	if rej != nil {
		return WriteIntent{}, rej
	}
	return p.CheckReferences(ctx, sub.Variant, intent)
}

// CheckPayload runs the store-independent checks: required fields, test type
// membership and result shape. On success the returned intent is fully typed.
func CheckPayload(sub Submission) (WriteIntent, *Rejection) {
	v := sub.Variant

	// 1. required fields
	var missing []string
	for _, f := range requiredFields {
		raw, present := sub.Raw(f)
		if falsy(raw, present) {
			missing = append(missing, v.Key(f))
		}
	}
	if len(missing) > 0 {
		return WriteIntent{}, reject(CodeValidation, "Faltan campos requeridos", map[string]any{
			"missing_fields":  missing,
			"required_fields": v.RequiredKeys(),
		})
	}

	userRaw, _ := sub.Raw(FieldUserID)
	apptRaw, _ := sub.Raw(FieldAppointmentID)
	userID, userOK := rawString(userRaw)
	appointmentID, apptOK := rawString(apptRaw)
	if !userOK || !apptOK {
		var invalid []string
		if !userOK {
			invalid = append(invalid, v.Key(FieldUserID))
		}
		if !apptOK {
			invalid = append(invalid, v.Key(FieldAppointmentID))
		}
		return WriteIntent{}, reject(CodeValidation, "Los identificadores deben ser cadenas de texto", map[string]any{
			"missing_fields":  []string{},
			"invalid_fields":  invalid,
			"required_fields": v.RequiredKeys(),
		})
	}

	// 2. test type
	ttRaw, _ := sub.Raw(FieldTestType)
	ttValue, _ := rawString(ttRaw)
	testType := model.TestType(ttValue)
	if jsonKind(ttRaw) != "string" || !testType.Valid() {
		return WriteIntent{}, reject(CodeInvalidTestType, "El tipo de examen proporcionado no es válido", map[string]any{
			"provided_test_type": rawValue(ttRaw),
			"allowed_types":      model.TestTypes,
		})
	}

	// 3. result shape
	resRaw, _ := sub.Raw(FieldResult)
	if kind := jsonKind(resRaw); kind != "object" {
		return WriteIntent{}, reject(CodeInvalidResultFormat, "El campo result debe ser un objeto", map[string]any{
			"provided_type": kind,
		})
	}
	var result map[string]any
	if err := json.Unmarshal(resRaw, &result); err != nil {
		return WriteIntent{}, reject(CodeInvalidResultFormat, "El campo result debe ser un objeto", map[string]any{
			"provided_type": "object",
			"error":         err.Error(),
		})
	}

	return WriteIntent{
		UserID:        userID,
		AppointmentID: appointmentID,
		TestType:      testType,
		Result:        result,
		Notes:         optionalString(sub, FieldNotes),
		PerformedAt:   optionalString(sub, FieldPerformedAt),
		StartPcMac:    optionalString(sub, FieldStartPcMac),
		EndPcMac:      optionalString(sub, FieldEndPcMac),
	}, nil
}

// CheckReferences runs the store checks on a typed intent: appointment and
// user existence, ownership, and duplicate detection. Callers that append
// afterwards must hold the intent's key lock across this call and the append.
func (p *Pipeline) CheckReferences(ctx context.Context, v Variant, in WriteIntent) (WriteIntent, error) {
	// 4. appointment exists
	owner, found, err := p.dir.AppointmentOwner(ctx, in.AppointmentID)
	if err != nil {
		return WriteIntent{}, err
	}
	if !found {
		return WriteIntent{}, reject(CodeAppointmentNotFound, "La cita con el appointment_id proporcionado no existe", map[string]any{
			v.Key(FieldAppointmentID): in.AppointmentID,
		})
	}

	// 5. user exists
	resolved, found, err := p.dir.ResolveUser(ctx, in.UserID, in.AppointmentID)
	if err != nil {
		return WriteIntent{}, err
	}
	if !found {
		return WriteIntent{}, reject(CodeUserNotFound, "El usuario con el user_id proporcionado no existe", map[string]any{
			v.Key(FieldUserID): in.UserID,
		})
	}

	// 6. the appointment belongs to the user
	if resolved != in.AppointmentID {
		return WriteIntent{}, reject(CodeAppointmentMismatch, "La cita especificada no pertenece al usuario indicado", map[string]any{
			v.Key(FieldUserID):        in.UserID,
			v.Key(FieldAppointmentID): in.AppointmentID,
			"appointment_owner":       owner,
			"user_appointment_id":     resolved,
		})
	}

	// 7. one result per appointment and test type
	existing, dup, err := p.store.FindOne(ctx, docstore.TestResults, docstore.All(
		docstore.Where("appointment_id", in.AppointmentID),
		docstore.Where("test_type", string(in.TestType)),
	))
	if err != nil {
		return WriteIntent{}, fmt.Errorf("find existing result: %w", err)
	}
	if dup {
		return WriteIntent{}, reject(CodeDuplicate, "Ya existe un resultado de examen para esta cita y tipo de examen", map[string]any{
			v.Key(FieldAppointmentID): in.AppointmentID,
			v.Key(FieldTestType):      string(in.TestType),
			"existing_test_id":        existing.String("test_result_id"),
			"created_at":              existing.String("created_at"),
		})
	}

	return in, nil
}

func optionalString(sub Submission, f Field) *string {
	raw, ok := sub.Raw(f)
	if !ok {
		return nil
	}
	s, ok := rawString(raw)
	if !ok || s == "" {
		return nil
	}
	return &s
}
