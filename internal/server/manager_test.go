package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/crewflow/config"
)

// startTestManager 在随机端口上启动 Manager，测试结束时关闭
func startTestManager(t *testing.T, h http.Handler) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(h, cfg, zaptest.NewLogger(t))
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig_StreamFriendly(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Positive(t, cfg.ReadTimeout)
	assert.Positive(t, cfg.ShutdownTimeout)
	assert.False(t, cfg.TLSEnabled())
}

func TestManager_ServesHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/interrupts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "[]")
	})
	m := startTestManager(t, mux)

	resp, err := http.Get("http://" + m.ListenAddr() + "/v1/interrupts")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, "127.0.0.1:0", m.Addr())
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(http.NewServeMux(), Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil)
	assert.True(t, m.IsRunning(), "未关闭前视为运行中")

	require.NoError(t, m.Start())
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "重复关闭是 no-op")
	assert.False(t, m.IsRunning())
	assert.Empty(t, m.ListenAddr())

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_ShutdownWaitsForInflightRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := startTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))

	status := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+m.ListenAddr()+"/v1/instances/x/resume", "application/json", nil)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	<-entered

	shutdown := make(chan error, 1)
	go func() { shutdown <- m.Shutdown(context.Background()) }()
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	select {
	case code := <-status:
		assert.Equal(t, http.StatusAccepted, code)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request never completed")
	}
	require.NoError(t, <-shutdown)
}

func TestManager_WaitReturnsOnContextCancel(t *testing.T) {
	m := startTestManager(t, http.NewServeMux())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
	assert.False(t, m.IsRunning())

	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestManager_PortInUse(t *testing.T) {
	first := startTestManager(t, http.NewServeMux())

	cfg := DefaultConfig()
	cfg.Addr = first.ListenAddr()
	err := NewManager(http.NewServeMux(), cfg, nil).Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestConfigFrom(t *testing.T) {
	tests := []struct {
		name    string
		in      config.ServerConfig
		addr    string
		withTLS bool
	}{
		{"plain", config.ServerConfig{HTTPPort: 1}, ":1", false},
		{"cert only", config.ServerConfig{HTTPPort: 8443, TLSCertFile: "cert.pem"}, ":8443", false},
		{"tls", config.ServerConfig{HTTPPort: 9090, TLSCertFile: "cert.pem", TLSKeyFile: "key.pem"}, ":9090", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ConfigFrom(tt.in)
			assert.Equal(t, tt.addr, c.Addr)
			assert.Equal(t, tt.withTLS, c.TLSEnabled())
			assert.Zero(t, c.WriteTimeout, "事件流不设写超时")
		})
	}

	c := ConfigFrom(config.ServerConfig{HTTPPort: 9090, ReadTimeout: 5 * time.Second, ShutdownTimeout: 2 * time.Second, TLSCertFile: "c", TLSKeyFile: "k"})
	assert.Equal(t, 5*time.Second, c.ReadTimeout)
	assert.Equal(t, 2*time.Second, c.ShutdownTimeout)
	require.NotNil(t, NewManager(http.NewServeMux(), c, nil).server.TLSConfig)
}
