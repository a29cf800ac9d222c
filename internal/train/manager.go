package train

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	appLog "traincommander/internal/log"
	"traincommander/internal/model"
)

var (
	// ErrIndexOutOfRange is returned for a train or step index that does not
	// exist.
	ErrIndexOutOfRange = errors.New("train: index out of range")
	// ErrNoActiveTrain is returned by operations on the active train when
	// none is selected.
	ErrNoActiveTrain = errors.New("train: no active train")
)

// Overlay is what the in-game overlay shows for the active train.
type Overlay struct {
	TrainIndex int             `json:"train_index"`
	TrainName  string          `json:"train_name"`
	StepIndex  int             `json:"step_index"`
	StepCount  int             `json:"step_count"`
	Step       model.TrainStep `json:"step"`
	Countdown  *Countdown      `json:"countdown,omitempty"`
	// Broadcast is the waypoint and squad message joined for pasting.
	Broadcast string `json:"broadcast,omitempty"`
}

// Manager owns the list of trains, the active train and its step cursor.
// Every successful edit is written through to the store.
type Manager struct {
	store *Store

	mu     sync.Mutex
	trains []model.TrainTemplate
	active int
	step   int
}

// NewManager returns an empty manager backed by store. Call Load to read
// the saved trains.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:  store,
		trains: []model.TrainTemplate{},
		active: -1,
	}
}

// Load replaces the in-memory trains with the saved ones and clears the
// active train. On error the manager is left empty.
func (m *Manager) Load() error {
	trains, err := m.store.Load()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active, m.step = -1, 0
	if err != nil {
		m.trains = []model.TrainTemplate{}
		return err
	}
	m.trains = trains
	appLog.Info("trains loaded", "path", m.store.Path(), "train_count", len(trains))
	return nil
}

// Save writes every train to the store.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := m.store.Save(m.trains); err != nil {
		appLog.Error("train save failed", err, "path", m.store.Path())
		return err
	}
	return nil
}

// state is a deep copy of everything an edit may change.
type state struct {
	trains []model.TrainTemplate
	active int
	step   int
}

func (m *Manager) snapshotLocked() state {
	trains := make([]model.TrainTemplate, len(m.trains))
	for i, t := range m.trains {
		trains[i] = t.Clone()
	}
	return state{trains: trains, active: m.active, step: m.step}
}

// commitLocked saves the current trains, restoring prev if the save fails.
func (m *Manager) commitLocked(prev state) error {
	if err := m.saveLocked(); err != nil {
		m.trains, m.active, m.step = prev.trains, prev.active, prev.step
		return err
	}
	return nil
}

// Trains returns a copy of every train.
func (m *Manager) Trains() []model.TrainTemplate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TrainTemplate, len(m.trains))
	for i, t := range m.trains {
		out[i] = t.Clone()
	}
	return out
}

// Train returns a copy of train i.
func (m *Manager) Train(i int) (model.TrainTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(i) {
		return model.TrainTemplate{}, fmt.Errorf("%w: train %d", ErrIndexOutOfRange, i)
	}
	return m.trains[i].Clone(), nil
}

// AddTrain appends t and returns its index.
func (m *Manager) AddTrain(t model.TrainTemplate) (int, error) {
	t = t.Clone()
	if t.Name == "" {
		t.Name = "New Train"
	}
	if t.Author == "" {
		t.Author = "Me"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.trains = append(m.trains, t)
	idx := len(m.trains) - 1
	if err := m.saveLocked(); err != nil {
		m.trains = m.trains[:idx]
		return -1, err
	}
	return idx, nil
}

// RenameTrain changes the name and author of train i.
func (m *Manager) RenameTrain(i int, name, author string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(i) {
		return fmt.Errorf("%w: train %d", ErrIndexOutOfRange, i)
	}
	prev := m.snapshotLocked()
	m.trains[i].Name = name
	m.trains[i].Author = author
	return m.commitLocked(prev)
}

// DeleteTrain removes train i. Deleting the active train deactivates it.
func (m *Manager) DeleteTrain(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(i) {
		return fmt.Errorf("%w: train %d", ErrIndexOutOfRange, i)
	}
	prev := m.snapshotLocked()
	m.trains = append(m.trains[:i:i], m.trains[i+1:]...)
	switch {
	case m.active == i:
		m.active, m.step = -1, 0
	case m.active > i:
		m.active--
	}
	return m.commitLocked(prev)
}

// SetActive selects train i and rewinds the cursor to its first step.
// Any index outside the list, including -1, deactivates.
func (m *Manager) SetActive(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = 0
	if !m.validTrain(i) {
		m.active = -1
		if i == -1 {
			return nil
		}
		return fmt.Errorf("%w: train %d", ErrIndexOutOfRange, i)
	}
	m.active = i
	appLog.Info("active train set", "index", i, "name", m.trains[i].Name)
	return nil
}

// Active returns a copy of the active train and its index.
func (m *Manager) Active() (model.TrainTemplate, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(m.active) {
		return model.TrainTemplate{}, -1, false
	}
	return m.trains[m.active].Clone(), m.active, true
}

// View returns a copy of every train with the active index (-1 when none)
// and the step cursor, all taken under one lock.
func (m *Manager) View() (trains []model.TrainTemplate, active, step int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trains = make([]model.TrainTemplate, len(m.trains))
	for i, t := range m.trains {
		trains[i] = t.Clone()
	}
	if !m.validTrain(m.active) {
		return trains, -1, 0
	}
	return trains, m.active, m.step
}

// CurrentStep returns the cursor position within the active train.
func (m *Manager) CurrentStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// NextStep advances the cursor, stopping at the last step.
func (m *Manager) NextStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validTrain(m.active) && m.step < len(m.trains[m.active].Steps)-1 {
		m.step++
	}
	return m.step
}

// PrevStep moves the cursor back, stopping at the first step.
func (m *Manager) PrevStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step > 0 {
		m.step--
	}
	return m.step
}

// AddStep appends step to train i and returns the step's index.
func (m *Manager) AddStep(i int, step model.TrainStep) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(i) {
		return -1, fmt.Errorf("%w: train %d", ErrIndexOutOfRange, i)
	}
	return m.appendStepLocked(i, step)
}

func (m *Manager) appendStepLocked(i int, step model.TrainStep) (int, error) {
	if step.Title == "" {
		step.Title = "New Step"
	}
	t := &m.trains[i]
	t.Steps = append(t.Steps, step)
	idx := len(t.Steps) - 1
	if err := m.saveLocked(); err != nil {
		t.Steps = t.Steps[:idx]
		return -1, err
	}
	return idx, nil
}

// UpdateStep replaces step j of train i.
func (m *Manager) UpdateStep(i, j int, step model.TrainStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validStep(i, j) {
		return fmt.Errorf("%w: train %d step %d", ErrIndexOutOfRange, i, j)
	}
	prev := m.snapshotLocked()
	m.trains[i].Steps[j] = step
	return m.commitLocked(prev)
}

// DeleteStep removes step j of train i, keeping the cursor in range.
func (m *Manager) DeleteStep(i, j int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validStep(i, j) {
		return fmt.Errorf("%w: train %d step %d", ErrIndexOutOfRange, i, j)
	}
	prev := m.snapshotLocked()
	steps := m.trains[i].Steps
	m.trains[i].Steps = append(steps[:j:j], steps[j+1:]...)
	if i == m.active {
		if m.step > j {
			m.step--
		}
		if n := len(m.trains[i].Steps); m.step >= n {
			m.step = max(n-1, 0)
		}
	}
	return m.commitLocked(prev)
}

// MoveStep swaps step j of train i with its neighbour delta positions away
// (-1 moves it up, +1 down). The cursor follows the step it pointed at.
func (m *Manager) MoveStep(i, j, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := j + delta
	if !m.validStep(i, j) || !m.validStep(i, k) {
		return fmt.Errorf("%w: train %d move step %d to %d", ErrIndexOutOfRange, i, j, k)
	}
	prev := m.snapshotLocked()
	steps := m.trains[i].Steps
	steps[j], steps[k] = steps[k], steps[j]
	if i == m.active {
		switch m.step {
		case j:
			m.step = k
		case k:
			m.step = j
		}
	}
	return m.commitLocked(prev)
}

// AppendEvent adds ev to the end of the active train. The spawn minute and
// duration are copied once; the step does not follow later feed changes.
func (m *Manager) AppendEvent(ev model.UpcomingEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(m.active) {
		return -1, ErrNoActiveTrain
	}
	def := ev.Definition
	return m.appendStepLocked(m.active, model.TrainStep{
		Title:           def.Name,
		Description:     def.Category,
		WaypointCode:    def.WaypointCode,
		SquadMessage:    def.DefaultSquadMessage,
		SpawnMinuteUTC:  ev.SpawnMinuteUTC,
		DurationMinutes: ev.DurationMinutes,
	})
}

// Export returns the share code of train i.
func (m *Manager) Export(i int) (string, error) {
	t, err := m.Train(i)
	if err != nil {
		return "", err
	}
	return Encode(t)
}

// Import decodes a share code and appends the train. An invalid code leaves
// the manager untouched.
func (m *Manager) Import(code string) (int, error) {
	t, err := Decode(code)
	if err != nil {
		return -1, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.trains = append(m.trains, t)
	idx := len(m.trains) - 1
	if err := m.saveLocked(); err != nil {
		m.trains = m.trains[:idx]
		return -1, err
	}
	appLog.Info("train imported", "index", idx, "name", t.Name, "steps", len(t.Steps))
	return idx, nil
}

// Overlay describes the active train's current step as of now.
func (m *Manager) Overlay(now time.Time) (Overlay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validTrain(m.active) {
		return Overlay{}, false
	}
	t := m.trains[m.active]
	if m.step < 0 || m.step >= len(t.Steps) {
		return Overlay{}, false
	}

	step := t.Steps[m.step]
	ov := Overlay{
		TrainIndex: m.active,
		TrainName:  t.Name,
		StepIndex:  m.step,
		StepCount:  len(t.Steps),
		Step:       step,
		Broadcast:  broadcast(step),
	}
	if cd, ok := CountdownFor(step, now); ok {
		ov.Countdown = &cd
	}
	return ov, true
}

func broadcast(s model.TrainStep) string {
	return strings.TrimSpace(s.WaypointCode + " " + s.SquadMessage)
}

func (m *Manager) validTrain(i int) bool {
	return i >= 0 && i < len(m.trains)
}

func (m *Manager) validStep(i, j int) bool {
	return m.validTrain(i) && j >= 0 && j < len(m.trains[i].Steps)
}
