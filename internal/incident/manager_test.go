package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rescuenet-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============ 测试替身 ============

type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*models.EmergencyIncident
	createErr error
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: map[string]*models.EmergencyIncident{}}
}

func (s *fakeIncidentStore) CreateIncident(ctx context.Context, incident *models.EmergencyIncident) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *incident
	s.incidents[incident.IncidentID] = &cp
	return nil
}

func (s *fakeIncidentStore) GetIncident(ctx context.Context, incidentID string) (*models.EmergencyIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.incidents[incidentID]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	cp := *incident
	return &cp, nil
}

func (s *fakeIncidentStore) GetActiveIncidentBySubject(ctx context.Context, subjectID string, window time.Duration) (*models.EmergencyIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, incident := range s.incidents {
		if incident.SubjectID == subjectID && incident.Status.ActiveLineage() &&
			time.Since(incident.CreatedAt) < window {
			cp := *incident
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeIncidentStore) UpdateIncidentGuarded(ctx context.Context, incidentID string, fromStatuses []models.IncidentStatus, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, ok := s.incidents[incidentID]
	if !ok {
		return false, nil
	}
	if len(fromStatuses) > 0 {
		matched := false
		for _, st := range fromStatuses {
			if incident.Status == st {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	if v, ok := updates["status"]; ok {
		incident.Status = models.IncidentStatus(v.(string))
	}
	if v, ok := updates["severity"]; ok {
		incident.Severity = models.Severity(v.(string))
	}
	if v, ok := updates["merged_count"]; ok {
		incident.MergedCount = v.(int)
	}
	if v, ok := updates["false_alarm_reason"]; ok && v != nil {
		reason := v.(string)
		incident.FalseAlarmReason = &reason
	}
	if v, ok := updates["resolution_outcome"]; ok && v != nil {
		if outcome, isStr := v.(string); isStr {
			incident.ResolutionOutcome = &outcome
		}
	}
	if v, ok := updates["acknowledged_by"]; ok && v != nil {
		if actor, isStr := v.(string); isStr {
			incident.AcknowledgedBy = &actor
		}
	}
	incident.UpdatedAt = time.Now()
	return true, nil
}

type fakeNotificationStore struct {
	mu      sync.Mutex
	records []*models.NotificationRecord
}

func (s *fakeNotificationStore) AppendNotification(ctx context.Context, record *models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

type fakeProfileStore struct{}

func (s *fakeProfileStore) GetThresholdProfile(ctx context.Context, subjectID string) (*models.ThresholdProfile, error) {
	return models.DefaultThresholdProfile(subjectID), nil
}

type fakeContactStore struct {
	contacts []*models.EmergencyContact
}

func (s *fakeContactStore) ListContacts(ctx context.Context, subjectID string) ([]*models.EmergencyContact, error) {
	return s.contacts, nil
}

type fakeLocator struct {
	candidates []models.FacilityCandidate
	err        error
}

func (l *fakeLocator) FindCapable(ctx context.Context, location *models.GeoPoint) ([]models.FacilityCandidate, error) {
	return l.candidates, l.err
}

type fakeNotifier struct {
	mu            sync.Mutex
	dispatched    []*models.EmergencyIncident
	facilityCalls []string
}

func (n *fakeNotifier) Dispatch(ctx context.Context, incident *models.EmergencyIncident, contacts []*models.EmergencyContact) []*models.NotificationRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, incident)
	return []*models.NotificationRecord{
		{NotificationID: "n1", IncidentID: incident.IncidentID, Channel: "sms", Delivered: true},
	}
}

func (n *fakeNotifier) NotifyFacility(ctx context.Context, incident *models.EmergencyIncident, facilityID string) *models.NotificationRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.facilityCalls = append(n.facilityCalls, facilityID)
	return &models.NotificationRecord{NotificationID: "nf", IncidentID: incident.IncidentID, Channel: "bot_broadcast", Delivered: true}
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeEventSink) Publish(ctx context.Context, eventType string, incident *models.EmergencyIncident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

type managerFixture struct {
	manager       *Manager
	incidents     *fakeIncidentStore
	notifications *fakeNotificationStore
	notifier      *fakeNotifier
	eventSink     *fakeEventSink
	locator       *fakeLocator
}

func newFixture() *managerFixture {
	f := &managerFixture{
		incidents:     newFakeIncidentStore(),
		notifications: &fakeNotificationStore{},
		notifier:      &fakeNotifier{},
		eventSink:     &fakeEventSink{},
		locator: &fakeLocator{candidates: []models.FacilityCandidate{
			{FacilityID: "fac-001", Name: "City Hospital", DistanceKm: 2.5, AvailableCapacity: 4, ETAMinutes: 5},
		}},
	}
	f.manager = NewManager(
		f.incidents,
		f.notifications,
		&fakeProfileStore{},
		&fakeContactStore{contacts: []*models.EmergencyContact{
			{ContactID: "c1", SubjectID: "subject-001", Name: "Alice", Phone: "+8613800000001", Priority: 1},
		}},
		f.locator,
		f.notifier,
		f.eventSink,
		2*time.Minute,
		zap.NewNop(),
	)
	return f
}

func intPtr(v int) *int { return &v }

func criticalReading() *models.VitalReading {
	return &models.VitalReading{
		ReadingID: "read-001",
		SubjectID: "subject-001",
		DeviceID:  "device-001",
		Timestamp: time.Now().Unix(),
		HeartRate: intPtr(150),
		Location:  &models.GeoPoint{Latitude: 39.9, Longitude: 116.4},
	}
}

// ============ HandleReading ============

func TestHandleReading_NormalVitalsNoIncident(t *testing.T) {
	f := newFixture()

	reading := criticalReading()
	reading.HeartRate = intPtr(72)

	incident, err := f.manager.HandleReading(context.Background(), reading)
	require.NoError(t, err)
	assert.Nil(t, incident)
	assert.Empty(t, f.notifier.dispatched)
	assert.Empty(t, f.eventSink.events)
}

func TestHandleReading_CreatesCriticalIncident(t *testing.T) {
	f := newFixture()

	incident, err := f.manager.HandleReading(context.Background(), criticalReading())
	require.NoError(t, err)
	require.NotNil(t, incident)
	f.manager.WaitDispatch()

	assert.Equal(t, models.TypeHeartRateAnomaly, incident.PrimaryType)
	assert.Equal(t, models.SeverityCritical, incident.Severity)
	assert.Equal(t, models.StatusActive, incident.Status)
	assert.Equal(t, "read-001", incident.ReadingID)
	require.NotNil(t, incident.TriggerSnapshot.HeartRate)
	assert.Equal(t, 150, *incident.TriggerSnapshot.HeartRate)

	// 机构分派
	require.NotNil(t, incident.AssignedFacilityID)
	assert.Equal(t, "fac-001", *incident.AssignedFacilityID)
	assert.False(t, incident.ManualDispatchRequired)

	// 通知分发 + 机构定向通知
	assert.Len(t, f.notifier.dispatched, 1)
	assert.Equal(t, []string{"fac-001"}, f.notifier.facilityCalls)
	assert.Len(t, f.notifications.records, 2)

	assert.Equal(t, []string{"incident_created"}, f.eventSink.events)
}

func TestHandleReading_DedupeMerges(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.manager.HandleReading(ctx, criticalReading())
	require.NoError(t, err)
	require.NotNil(t, first)

	// 窗口内第二条读数：合并而非新建
	second := criticalReading()
	second.ReadingID = "read-002"
	merged, err := f.manager.HandleReading(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, merged)
	f.manager.WaitDispatch()

	assert.Equal(t, first.IncidentID, merged.IncidentID)
	assert.Equal(t, 1, merged.MergedCount)

	// 通知不重发
	assert.Len(t, f.notifier.dispatched, 1)
	assert.Equal(t, []string{"incident_created", "incident_updated"}, f.eventSink.events)
}

func TestHandleReading_MergeRaisesSeverityMonotonically(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// 先来一条 high 级别（低血氧 93）
	mild := criticalReading()
	mild.HeartRate = nil
	mild.SpO2 = intPtr(93)
	first, err := f.manager.HandleReading(ctx, mild)
	require.NoError(t, err)
	require.Equal(t, models.SeverityHigh, first.Severity)

	// 再来 critical：级别升
	severe := criticalReading()
	severe.ReadingID = "read-002"
	merged, err := f.manager.HandleReading(ctx, severe)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, merged.Severity)

	// 之后又来 medium：级别不降
	mild2 := criticalReading()
	mild2.ReadingID = "read-003"
	mild2.HeartRate = nil
	mild2.RespiratoryRate = intPtr(25)
	merged2, err := f.manager.HandleReading(ctx, mild2)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, merged2.Severity)
	assert.Equal(t, 2, merged2.MergedCount)
}

func TestHandleReading_InvalidReadingRejected(t *testing.T) {
	f := newFixture()

	reading := criticalReading()
	reading.HeartRate = intPtr(400)

	_, err := f.manager.HandleReading(context.Background(), reading)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reading")
	assert.Empty(t, f.incidents.incidents)
}

func TestHandleReading_NoLocationManualDispatch(t *testing.T) {
	f := newFixture()

	reading := criticalReading()
	reading.Location = nil

	incident, err := f.manager.HandleReading(context.Background(), reading)
	require.NoError(t, err)
	require.NotNil(t, incident)
	f.manager.WaitDispatch()

	assert.Nil(t, incident.AssignedFacilityID)
	assert.True(t, incident.ManualDispatchRequired)
	assert.Empty(t, f.notifier.facilityCalls)
}

func TestHandleReading_NoCapableFacilityManualDispatch(t *testing.T) {
	f := newFixture()
	f.locator.candidates = nil

	incident, err := f.manager.HandleReading(context.Background(), criticalReading())
	require.NoError(t, err)
	require.NotNil(t, incident)

	assert.Nil(t, incident.AssignedFacilityID)
	assert.True(t, incident.ManualDispatchRequired)
}

func TestHandleReading_LocatorFailureDoesNotBlockIncident(t *testing.T) {
	f := newFixture()
	f.locator.err = errors.New("directory unavailable")

	incident, err := f.manager.HandleReading(context.Background(), criticalReading())
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.True(t, incident.ManualDispatchRequired)
}

// ============ 状态机 ============

func createActiveIncident(t *testing.T, f *managerFixture) *models.EmergencyIncident {
	t.Helper()
	incident, err := f.manager.HandleReading(context.Background(), criticalReading())
	require.NoError(t, err)
	require.NotNil(t, incident)
	f.manager.WaitDispatch()
	return incident
}

func TestAcknowledge_Success(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	updated, err := f.manager.Acknowledge(context.Background(), incident.IncidentID, "operator-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusAcknowledged, updated.Status)
	require.NotNil(t, updated.AcknowledgedBy)
	assert.Equal(t, "operator-1", *updated.AcknowledgedBy)
}

func TestAcknowledge_RequiresActor(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	_, err := f.manager.Acknowledge(context.Background(), incident.IncidentID, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "actor is required")
}

func TestStartResponse_FromAcknowledged(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)
	ctx := context.Background()

	_, err := f.manager.Acknowledge(ctx, incident.IncidentID, "operator-1")
	require.NoError(t, err)

	updated, err := f.manager.StartResponse(ctx, incident.IncidentID, []string{"medic-1", "medic-2"}, intPtr(8))
	require.NoError(t, err)
	assert.Equal(t, models.StatusResponding, updated.Status)
}

func TestStartResponse_FromActiveImplicitAck(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	// 未确认的事件可以直接开始响应
	updated, err := f.manager.StartResponse(context.Background(), incident.IncidentID, []string{"medic-1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusResponding, updated.Status)
	// 隐式确认：确认人记为首位响应者
	require.NotNil(t, updated.AcknowledgedBy)
	assert.Equal(t, "medic-1", *updated.AcknowledgedBy)
}

func TestStartResponse_TerminalIsIllegal(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)
	ctx := context.Background()

	_, err := f.manager.MarkFalseAlarm(ctx, incident.IncidentID, "sensor glitch")
	require.NoError(t, err)

	_, err = f.manager.StartResponse(ctx, incident.IncidentID, []string{"medic-1"}, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestResolve_FullLifecycle(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)
	ctx := context.Background()

	_, err := f.manager.Acknowledge(ctx, incident.IncidentID, "operator-1")
	require.NoError(t, err)
	_, err = f.manager.StartResponse(ctx, incident.IncidentID, []string{"medic-1"}, nil)
	require.NoError(t, err)

	resolved, err := f.manager.Resolve(ctx, incident.IncidentID, "transported", "subject stable")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)

	assert.Contains(t, f.eventSink.events, "incident_resolved")
}

func TestResolve_FromAcknowledged(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)
	ctx := context.Background()

	_, err := f.manager.Acknowledge(ctx, incident.IncidentID, "operator-1")
	require.NoError(t, err)

	// 无需进入 responding，确认后即可直接结案
	resolved, err := f.manager.Resolve(ctx, incident.IncidentID, "resolved_on_site", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
}

func TestResolve_FromActive(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	resolved, err := f.manager.Resolve(context.Background(), incident.IncidentID, "self_recovered", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
}

func TestResolve_TerminalIncidentIsIllegal(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)
	ctx := context.Background()

	_, err := f.manager.MarkFalseAlarm(ctx, incident.IncidentID, "sensor glitch")
	require.NoError(t, err)

	// 终态事件不可再变更
	_, err = f.manager.Resolve(ctx, incident.IncidentID, "transported", "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	stored, err := f.incidents.GetIncident(ctx, incident.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFalseAlarm, stored.Status)
}

func TestMarkFalseAlarm_RequiresReason(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	_, err := f.manager.MarkFalseAlarm(context.Background(), incident.IncidentID, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reason is required")
}

func TestMarkFalseAlarm_FromActive(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	updated, err := f.manager.MarkFalseAlarm(context.Background(), incident.IncidentID, "sensor glitch")
	require.NoError(t, err)

	assert.Equal(t, models.StatusFalseAlarm, updated.Status)
	require.NotNil(t, updated.FalseAlarmReason)
	assert.Equal(t, "sensor glitch", *updated.FalseAlarmReason)
}

func TestReopen_FromTerminal(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)
	ctx := context.Background()

	_, err := f.manager.MarkFalseAlarm(ctx, incident.IncidentID, "sensor glitch")
	require.NoError(t, err)

	reopened, err := f.manager.Reopen(ctx, incident.IncidentID, "operator-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, reopened.Status)
}

func TestReopen_ActiveIncidentIsIllegal(t *testing.T) {
	f := newFixture()
	incident := createActiveIncident(t, f)

	_, err := f.manager.Reopen(context.Background(), incident.IncidentID, "operator-2")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestHandleReading_AfterResolveCreatesNewIncident(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := createActiveIncident(t, f)
	_, err := f.manager.MarkFalseAlarm(ctx, first.IncidentID, "sensor glitch")
	require.NoError(t, err)

	// 终态事件不在活跃谱系里，新读数新建事件
	second := criticalReading()
	second.ReadingID = "read-002"
	incident, err := f.manager.HandleReading(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.NotEqual(t, first.IncidentID, incident.IncidentID)
}
