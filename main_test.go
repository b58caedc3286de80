package main

import (
	"testing"
	"time"

	"tradelens/config"
)

func TestApplyConfigUpdateForwardsSyncInterval(t *testing.T) {
	app := &App{intervalCh: make(chan time.Duration, 1)}

	cfg := config.CreateDefaultConfig()
	cfg.Sync.Interval = 120
	app.applyConfigUpdate(cfg)

	select {
	case got := <-app.intervalCh:
		if got != 120*time.Second {
			t.Fatalf("同步间隔应为 120s, got %v", got)
		}
	default:
		t.Fatal("配置热更新后应推送新的同步间隔")
	}
}

func TestApplyConfigUpdateKeepsLatestInterval(t *testing.T) {
	app := &App{intervalCh: make(chan time.Duration, 1)}

	cfg := config.CreateDefaultConfig()
	cfg.Sync.Interval = 60
	app.applyConfigUpdate(cfg)

	// 调度器未消费时，后一次变更覆盖前一次
	cfg2 := config.CreateDefaultConfig()
	cfg2.Sync.Interval = 600
	app.applyConfigUpdate(cfg2)

	select {
	case got := <-app.intervalCh:
		if got != 600*time.Second {
			t.Fatalf("应只保留最新的同步间隔 600s, got %v", got)
		}
	default:
		t.Fatal("配置热更新后应推送新的同步间隔")
	}
}
