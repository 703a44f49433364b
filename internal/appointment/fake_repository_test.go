package appointment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dheovanwa/serenity/internal/capacity"
)

type fakeRepo struct {
	mu sync.Mutex

	patients      map[uuid.UUID]Patient
	psychiatrists map[uuid.UUID]Psychiatrist
	appointments  map[uuid.UUID]Appointment
	sessions      map[uuid.UUID]SessionRecord

	booked map[capacity.Key]int
	ranges map[uuid.UUID]TimeRange

	events []EventLog
	writes int

	// failOn makes status writes for that appointment fail.
	failOn map[uuid.UUID]error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:      map[uuid.UUID]Patient{},
		psychiatrists: map[uuid.UUID]Psychiatrist{},
		appointments:  map[uuid.UUID]Appointment{},
		sessions:      map[uuid.UUID]SessionRecord{},
		booked:        map[capacity.Key]int{},
		ranges:        map[uuid.UUID]TimeRange{},
		failOn:        map[uuid.UUID]error{},
	}
}

func (f *fakeRepo) put(a Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appointments[a.ID] = a
}

func (f *fakeRepo) status(id uuid.UUID) AppointmentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appointments[id].Status
}

func (f *fakeRepo) bookedFor(psychiatristID uuid.UUID, date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.booked[capacity.Key{PsychiatristID: psychiatristID, Date: date}]
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (f *fakeRepo) GetPsychiatristByID(_ context.Context, id uuid.UUID) (*Psychiatrist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.psychiatrists[id]
	if !ok {
		return nil, ErrPsychiatristNotFound
	}
	return &p, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (f *fakeRepo) ListAppointmentsByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.Involves(userID) {
			out = append(out, a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) ListOpenAppointments(context.Context) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		for _, s := range OpenStatuses {
			if a.Status == s {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) CreatePendingAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := capacity.Key{PsychiatristID: in.Psychiatrist.ID, Date: in.Date}
	switch in.Method {
	case MethodChat:
		if f.booked[key]+1 > in.Psychiatrist.DailyChatQuota {
			return nil, ErrFullyBooked
		}
		f.booked[key]++
	case MethodVideo:
		for id, r := range f.ranges {
			other := f.appointments[id]
			if other.PsychiatristID == in.Psychiatrist.ID && other.Date == in.Date &&
				r.Start <= in.Range.End && r.End >= in.Range.Start {
				return nil, ErrSlotTaken
			}
		}
		f.ranges[in.ID] = *in.Range
	}

	token := in.PaymentToken
	created := in.CreatedAt
	a := Appointment{
		ID:               in.ID,
		PatientID:        in.Patient.ID,
		PsychiatristID:   in.Psychiatrist.ID,
		PatientName:      in.Patient.Name,
		PsychiatristName: in.Psychiatrist.Name,
		Method:           in.Method,
		Date:             in.Date,
		Time:             in.Time,
		Price:            in.Price,
		Status:           StatusAwaitingPayment,
		PaymentToken:     &token,
		CreatedAt:        &created,
		UpdatedAt:        created,
	}
	f.appointments[a.ID] = a
	f.writes++
	return &a, nil
}

// conditional mirrors UPDATE ... WHERE status = from. Caller holds mu.
func (f *fakeRepo) conditional(id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if err := f.failOn[id]; err != nil {
		return nil, err
	}
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	f.appointments[id] = a
	f.writes++
	return &a, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conditional(id, from, to)
}

func (f *fakeRepo) SettlePayment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.conditional(id, StatusAwaitingPayment, StatusScheduled)
	if err != nil {
		return nil, err
	}
	a.PaymentToken = nil
	f.appointments[id] = *a
	return a, nil
}

func (f *fakeRepo) TransitionAndRelease(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.conditional(id, from, to)
	if err != nil {
		return nil, err
	}
	if a.Method == MethodChat {
		key := capacity.Key{PsychiatristID: a.PsychiatristID, Date: a.Date}
		f.booked[key] = max(f.booked[key]-1, 0)
	} else {
		delete(f.ranges, a.ID)
	}
	return a, nil
}

func (f *fakeRepo) GetSessionRecord(_ context.Context, appointmentID uuid.UUID) (*SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.sessions[appointmentID]
	if !ok {
		return nil, ErrSessionRecordNotFound
	}
	return &r, nil
}

func (f *fakeRepo) EnsureSessionRecord(_ context.Context, appointmentID uuid.UUID) (*SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.sessions[appointmentID]
	if !ok {
		r = SessionRecord{AppointmentID: appointmentID}
		f.sessions[appointmentID] = r
	}
	return &r, nil
}

func (f *fakeRepo) EndSession(_ context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.conditional(appointmentID, StatusInProgress, StatusFinished)
	if err != nil {
		return nil, err
	}
	r := f.sessions[appointmentID]
	r.AppointmentID = appointmentID
	r.Ended = true
	f.sessions[appointmentID] = r
	return a, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

type passLocker struct {
	err error
}

func (l passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

var errBoom = errors.New("boom")
