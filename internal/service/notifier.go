package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChannelSubjectStaffUpdated 学科分配变更广播频道
const ChannelSubjectStaffUpdated = "subject-staff-updated"

// AssignmentChangedEvent 学科分配变更事件
type AssignmentChangedEvent struct {
	EventID   string    `json:"event_id"`
	StaffIDs  []uint    `json:"staff_ids"`
	ChangedBy uint      `json:"changed_by"`
	At        time.Time `json:"at"`
}

// ChangeNotifier 变更通知
// 通知失败只记录日志，不影响已提交的分配
type ChangeNotifier interface {
	AssignmentsChanged(ctx context.Context, staffIDs []uint, changedBy uint) error
}

// Publisher 消息发布方，pkg/redis.Client 满足该接口
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// ── Redis Pub/Sub 实现 ──

type publishNotifier struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPublishNotifier 基于发布订阅的通知实现
func NewPublishNotifier(pub Publisher, logger *zap.Logger) ChangeNotifier {
	return &publishNotifier{pub: pub, logger: logger}
}

func (n *publishNotifier) AssignmentsChanged(ctx context.Context, staffIDs []uint, changedBy uint) error {
	event := AssignmentChangedEvent{
		EventID:   uuid.NewString(),
		StaffIDs:  staffIDs,
		ChangedBy: changedBy,
		At:        time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	receivers, err := n.pub.Publish(ctx, ChannelSubjectStaffUpdated, payload)
	if err != nil {
		return err
	}

	n.logger.Debug("已广播学科分配变更",
		zap.String("event_id", event.EventID),
		zap.Int("staff_count", len(staffIDs)),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// ── 空实现（Redis 不可用时） ──

type nopNotifier struct{}

// NewNopNotifier 不发送任何通知
func NewNopNotifier() ChangeNotifier { return nopNotifier{} }

func (nopNotifier) AssignmentsChanged(context.Context, []uint, uint) error { return nil }
