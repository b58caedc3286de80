package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradelens/config"
	"tradelens/logger"
)

// Storage 存储接口
type Storage interface {
	SaveSyncRecord(record *SyncRecord) error
	SaveCompletedTrade(record *CompletedTradeRecord) error
	SaveEvent(eventType string, data map[string]interface{}) error
	QuerySyncHistory(limit, offset int) ([]*SyncRecord, error)
	QueryCompletedTrades(asset string, startTime, endTime time.Time, limit, offset int) ([]*CompletedTradeRecord, error)
	GetPnLByAsset(startTime, endTime time.Time) ([]*PnLSummary, error)
	Close() error
}

// storageEvent 存储事件
type storageEvent struct {
	eventType string
	data      interface{}
}

// StorageService 存储服务（异步批量写入，写失败时降级到日志文件）
type StorageService struct {
	storage      Storage
	cfg          *config.Config
	eventCh      chan *storageEvent
	buffer       []*storageEvent
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	fallbackPath string
	stopped      bool
	stopMu       sync.Mutex
}

// NewStorageService 创建存储服务
func NewStorageService(cfg *config.Config, ctx context.Context) (*StorageService, error) {
	if !cfg.Storage.Enabled {
		return &StorageService{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)

	ss := &StorageService{
		cfg:          cfg,
		eventCh:      make(chan *storageEvent, cfg.Storage.BufferSize),
		buffer:       make([]*storageEvent, 0, cfg.Storage.BatchSize),
		ctx:          ctx,
		cancel:       cancel,
		fallbackPath: filepath.Join(cfg.Data.Dir, "storage_fallback.log"),
	}

	dataDir := filepath.Dir(cfg.Storage.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		cancel()
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	switch cfg.Storage.Type {
	case "sqlite":
		sqliteStorage, err := NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("初始化 SQLite 存储失败: %w", err)
		}
		ss.storage = sqliteStorage
	default:
		cancel()
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Storage.Type)
	}

	return ss, nil
}

// GetStorage 获取底层存储接口（用于查询接口直接调用）
func (ss *StorageService) GetStorage() Storage {
	return ss.storage
}

// Start 启动存储服务
func (ss *StorageService) Start() {
	if ss.storage == nil {
		return
	}

	go ss.processEvents()
	logger.Info("✅ 存储服务已启动 (类型: %s, 路径: %s)", ss.cfg.Storage.Type, ss.cfg.Storage.Path)
}

// Stop 停止存储服务
func (ss *StorageService) Stop() {
	ss.stopMu.Lock()
	if ss.stopped {
		ss.stopMu.Unlock()
		return
	}
	ss.stopped = true
	ss.stopMu.Unlock()

	if ss.cancel != nil {
		ss.cancel()
	}

	// 等待 processEvents 协程处理完队列中的事件
	time.Sleep(100 * time.Millisecond)

	ss.flush()

	if ss.storage != nil {
		ss.storage.Close()
	}
}

// SaveSyncRecord 异步保存同步历史
func (ss *StorageService) SaveSyncRecord(record *SyncRecord) {
	ss.enqueue("sync_record", record)
}

// SaveCompletedTrade 异步归档已完成卖出
func (ss *StorageService) SaveCompletedTrade(record *CompletedTradeRecord) {
	ss.enqueue("completed_trade", record)
}

// SaveEvent 异步保存通用事件
func (ss *StorageService) SaveEvent(eventType string, data map[string]interface{}) {
	ss.enqueue(eventType, data)
}

// enqueue 事件入队（完全异步，不阻塞调用方）
func (ss *StorageService) enqueue(eventType string, data interface{}) {
	if ss.storage == nil {
		return
	}

	ss.stopMu.Lock()
	stopped := ss.stopped
	ss.stopMu.Unlock()
	if stopped {
		return
	}

	select {
	case ss.eventCh <- &storageEvent{eventType: eventType, data: data}:
	default:
		// 队列满了不阻塞主流程
		logger.Warn("⚠️ 存储队列已满，丢弃事件: %s", eventType)
	}
}

// processEvents 处理事件（在独立 goroutine 中运行）
func (ss *StorageService) processEvents() {
	flushInterval := time.Duration(ss.cfg.Storage.FlushInterval) * time.Second
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.ctx.Done():
			ss.flush()
			return

		case event := <-ss.eventCh:
			ss.mu.Lock()
			ss.buffer = append(ss.buffer, event)
			bufferSize := len(ss.buffer)
			ss.mu.Unlock()

			if bufferSize >= ss.cfg.Storage.BatchSize {
				ss.flush()
			}

		case <-ticker.C:
			ss.flush()
		}
	}
}

// flush 刷新缓冲区到数据库
func (ss *StorageService) flush() {
	ss.mu.Lock()
	if len(ss.buffer) == 0 {
		ss.mu.Unlock()
		return
	}

	events := make([]*storageEvent, len(ss.buffer))
	copy(events, ss.buffer)
	ss.buffer = ss.buffer[:0]
	ss.mu.Unlock()

	if err := ss.batchSave(events); err != nil {
		logger.Error("❌ 数据库写入失败: %v", err)
		// 保底方案：写入日志文件
		ss.fallbackToLog(events)
	}
}

// batchSave 批量保存
func (ss *StorageService) batchSave(events []*storageEvent) error {
	if ss.storage == nil {
		return fmt.Errorf("存储服务未初始化")
	}

	for _, event := range events {
		var err error
		switch event.eventType {
		case "sync_record":
			if record, ok := event.data.(*SyncRecord); ok {
				err = ss.storage.SaveSyncRecord(record)
			}
		case "completed_trade":
			if record, ok := event.data.(*CompletedTradeRecord); ok {
				err = ss.storage.SaveCompletedTrade(record)
			}
		default:
			if data, ok := event.data.(map[string]interface{}); ok {
				err = ss.storage.SaveEvent(event.eventType, data)
			}
		}

		if err != nil {
			if err.Error() == "sql: database is closed" {
				return fmt.Errorf("数据库已关闭，停止保存")
			}
			return fmt.Errorf("保存 %s 失败: %w", event.eventType, err)
		}
	}

	return nil
}

// fallbackToLog 保底方案：写入日志文件
func (ss *StorageService) fallbackToLog(events []*storageEvent) {
	dataDir := filepath.Dir(ss.fallbackPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Error("❌ 创建日志目录失败: %v", err)
		return
	}

	file, err := os.OpenFile(ss.fallbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("❌ 打开日志文件失败: %v", err)
		return
	}
	defer file.Close()

	for _, event := range events {
		data, err := json.Marshal(map[string]interface{}{
			"type": event.eventType,
			"data": event.data,
		})
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), string(data))
		file.WriteString(line)
	}
}
