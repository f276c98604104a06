// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"nvr/pkg/ffmpeg"
	"nvr/pkg/log"
	"nvr/pkg/storage"
	"nvr/pkg/video"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// StartHook is called when monitor start.
type StartHook func(context.Context, *Monitor)

// StartInputHook is called when input process start.
type StartInputHook func(context.Context, *InputProcess, *[]string)

// RecSaveHook is called when recording is saved.
type RecSaveHook func(*Monitor, *string)

// RecSavedHook is called after recording have been saved successfully.
type RecSavedHook func(*Monitor, string, storage.RecordingData)

// Hooks monitor hooks.
type Hooks struct {
	Start      StartHook
	StartInput StartInputHook
	RecSave    RecSaveHook
	RecSaved   RecSavedHook
}

// Configs Monitor configurations.
type Configs map[string]Config

// Config Monitor configuration.
type Config map[string]string

func (c Config) enabled() bool {
	return c["enable"] == "true"
}

// ID returns id of monitor.
func (c Config) ID() string {
	return c["id"]
}

// Name returns name of monitor.
func (c Config) Name() string {
	return c["name"]
}

func (c Config) audioEnabled() bool {
	switch c["audioEncoder"] {
	case "":
		return false
	case "none":
		return false
	}
	return true
}

// MainInput main input url.
func (c Config) MainInput() string {
	return c["mainInput"]
}

// SubInput sub input url.
func (c Config) SubInput() string {
	return c["subInput"]
}

// SubInputEnabled if sub input is available.
func (c Config) SubInputEnabled() bool {
	return c.SubInput() != ""
}

func (c Config) videoLength() string {
	return c["videoLength"]
}

// LogLevel getter.
func (c Config) LogLevel() string {
	return c["logLevel"]
}

// Hwacell getter.
func (c Config) Hwacell() string {
	return c["hwaccel"]
}

// Manager for the monitors.
type Manager struct {
	Monitors monitors
	env      *storage.ConfigEnv
	log      *log.Logger
	path     string
	hooks    *Hooks
	video    *video.Server
	mu       sync.Mutex
}

// NewManager return new monitor manager. videoServer is the Go-native
// RTSP/HLS server each monitor's input process publishes into; every
// input gets its own path, and the recorder reads segments back out of it.
func NewManager(
	configPath string,
	env *storage.ConfigEnv,
	log *log.Logger,
	hooks *Hooks,
	videoServer *video.Server,
) (*Manager, error) {
	if err := os.MkdirAll(configPath, 0o700); err != nil {
		return nil, fmt.Errorf("could not create monitors directory: %w", err)
	}

	configFiles, err := readConfigs(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration files: %w", err)
	}

	manager := &Manager{
		env:   env,
		log:   log,
		path:  configPath,
		hooks: hooks,
		video: videoServer,
	}

	monitors := make(monitors)
	for _, file := range configFiles {
		var config Config
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("could not unmarshal config: %w: %v", err, file)
		}
		monitors[config["id"]] = manager.newMonitor(config)
	}
	manager.Monitors = monitors

	return manager, nil
}

func readConfigs(path string) ([][]byte, error) {
	var files [][]byte
	fileSystem := os.DirFS(path)
	err := fs.WalkDir(fileSystem, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.Contains(path, ".json") {
			return nil
		}
		file, err := fs.ReadFile(fileSystem, path)
		if err != nil {
			return fmt.Errorf("could not read file: %v %w", path, err)
		}
		files = append(files, file)
		return nil
	})
	return files, err
}

// MonitorSet sets config for specified monitor.
func (m *Manager) MonitorSet(id string, c Config) error {
	defer m.mu.Unlock()
	m.mu.Lock()

	monitor, exist := m.Monitors[id]
	if exist {
		monitor.Mu.Lock()
		monitor.Config = c
		monitor.Mu.Unlock()
	} else {
		monitor = m.newMonitor(c)
		m.Monitors[id] = monitor
	}

	// Update file.
	monitor.Mu.Lock()
	config, _ := json.MarshalIndent(monitor.Config, "", "    ")

	if err := os.WriteFile(m.configPath(id), config, 0o600); err != nil {
		return err
	}
	monitor.Mu.Unlock()

	return nil
}

// ErrNotExist monitor does not exist.
var ErrNotExist = errors.New("monitor does not exist")

// MonitorDelete deletes monitor by id.
func (m *Manager) MonitorDelete(id string) error {
	defer m.mu.Unlock()
	m.mu.Lock()
	monitors := m.Monitors

	monitor, exists := monitors[id]
	if !exists {
		return ErrNotExist
	}
	monitor.Stop()

	delete(m.Monitors, id)

	if err := os.Remove(m.configPath(id)); err != nil {
		return err
	}

	return nil
}

// MonitorsInfo returns common information about the monitors.
// This will be accessesable by normal users.
func (m *Manager) MonitorsInfo() Configs {
	configs := make(map[string]Config)
	m.mu.Lock()
	for _, monitor := range m.Monitors {
		monitor.Mu.Lock()
		c := monitor.Config
		monitor.Mu.Unlock()

		enable := "false"
		if c.enabled() {
			enable = "true"
		}

		audioEnabled := "false"
		if c.audioEnabled() {
			audioEnabled = "true"
		}

		subInputEnabled := "false"
		if c.SubInputEnabled() {
			subInputEnabled = "true"
		}

		configs[c.ID()] = Config{
			"id":              c.ID(),
			"name":            c.Name(),
			"enable":          enable,
			"audioEnabled":    audioEnabled,
			"subInputEnabled": subInputEnabled,
		}
	}
	m.mu.Unlock()
	return configs
}

func (m *Manager) configPath(id string) string {
	return m.path + "/" + id + ".json"
}

// MonitorConfigs returns configurations for all monitors.
func (m *Manager) MonitorConfigs() map[string]Config {
	configs := make(map[string]Config)

	m.mu.Lock()
	for _, monitor := range m.Monitors {
		monitor.Mu.Lock()
		configs[monitor.Config.ID()] = monitor.Config
		monitor.Mu.Unlock()
	}
	m.mu.Unlock()

	return configs
}

func (m *Manager) newMonitor(config Config) *Monitor {
	monitor := &Monitor{
		Env:    m.env,
		Config: config,
		video:  m.video,

		hooks: m.hooks,

		WG:  &sync.WaitGroup{},
		Log: m.log,
	}
	monitor.mainInput = monitor.newInputProcess(false)
	monitor.subInput = monitor.newInputProcess(true)

	return monitor
}

// monitors map.
type monitors map[string]*Monitor

// Monitor service.
type Monitor struct {
	Env    *storage.ConfigEnv
	Config Config

	video *video.Server

	running bool

	mainInput *InputProcess
	subInput  *InputProcess
	recorder  *Recorder

	hooks *Hooks

	Mu     sync.Mutex
	WG     *sync.WaitGroup
	Log    *log.Logger
	cancel func()
}

// ErrRunning monitor is already running.
var ErrRunning = errors.New("monitor is aleady running")

// Start monitor.
func (m *Monitor) Start() error {
	defer m.Mu.Unlock()
	m.Mu.Lock()
	if m.running {
		return ErrRunning
	}
	m.running = true

	id := m.Config.ID()

	if !m.Config.enabled() {
		m.Log.Info().Src("monitor").Monitor(id).Msg("disabled")
		return nil
	}

	m.Log.Info().Src("monitor").Monitor(id).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.alwaysRecord() {
		infinte := time.Duration(1<<63 - 62135596801)
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(15 * time.Second):
				err := m.SendEvent(storage.Event{
					Time:        time.Now(),
					RecDuration: infinte,
				})
				if err != nil {
					m.Log.Error().
						Src("monitor").Monitor(id).
						Msgf("could not start continuous recording: %v", err)
				}
			}
		}()
	}

	m.hooks.Start(ctx, m)

	m.WG.Add(1)
	go m.mainInput.start(ctx, m)

	if m.Config.SubInputEnabled() {
		m.WG.Add(1)
		go m.subInput.start(ctx, m)
	}

	m.recorder = newRecorder(m)
	m.WG.Add(1)
	go m.recorder.start(ctx)

	return nil
}

func (m *Monitor) newInputProcess(isSubInput bool) *InputProcess {
	i := &InputProcess{
		isSubInput:       isSubInput,
		M:                m,
		runInputProcess:  runInputProcess,
		sizeFromStream:   ffmpeg.New(m.Env.FFmpegBin).SizeFromStream,
		newProcess:       ffmpeg.NewProcess,
		watchdogInterval: 10 * time.Second,
	}

	return i
}

func (i *InputProcess) generateArgs() string {
	// OUTPUT
	// -threads 1 -loglevel error -hwaccel x -i rtsp:x -an -c:v libx264
	// -preset veryfast -f rtsp -rtsp_transport tcp rtsp://127.0.0.1:8554/id
	//
	// Audio is out of scope (spec.md Non-goal): the stream published into
	// the video server is always video-only.

	c := i.M.Config
	var args string

	args += "-threads 1 -loglevel " + c.LogLevel()
	if c.Hwacell() != "" {
		args += " -hwaccel " + c.Hwacell()
	}

	args += " -i " + i.input() // Input.
	args += " -an"             // Skip audio.

	args += " -c:v " + c["videoEncoder"] + " -preset veryfast" // Video encoder.

	// Publish into the video server.
	args += " -f rtsp -rtsp_transport " + i.serverPath.RtspProtocol +
		" " + i.serverPath.RtspAddress

	return args
}

type runInputProcessFunc func(context.Context, *InputProcess) error

// InputProcess monitor input process.
type InputProcess struct {
	isSubInput bool
	size       string
	cancel     func()

	M *Monitor

	serverPath *video.ServerPath

	runInputProcess  runInputProcessFunc
	sizeFromStream   ffmpeg.SizeFromStreamFunc
	newProcess       ffmpeg.NewProcessFunc
	watchdogInterval time.Duration
}

// pathName returns the video server path name this input publishes into.
func (i *InputProcess) pathName() string {
	id := i.M.Config.ID()
	if i.isSubInput {
		return id + "_sub"
	}
	return id
}

// HLSMuxer returns the HLS muxer feeding off this input's published stream.
// Only valid once the input process has started.
func (i *InputProcess) HLSMuxer(ctx context.Context) (video.IHLSMuxer, error) {
	if i.serverPath == nil {
		return nil, ErrInputNotStarted
	}
	return i.serverPath.HLSMuxer(ctx)
}

// ErrInputNotStarted the input process hasn't registered a video server path yet.
var ErrInputNotStarted = errors.New("input process not started")

// IsSubInput getter.
func (i *InputProcess) IsSubInput() bool {
	return i.isSubInput
}

// Size getter.
func (i *InputProcess) Size() string {
	return i.size
}

// ProcessName .
func (i *InputProcess) ProcessName() string {
	if i.isSubInput {
		return "sub"
	}
	return "main"
}

func (i *InputProcess) input() string {
	if i.isSubInput {
		return i.M.Config.SubInput()
	}
	return i.M.Config.MainInput()
}

// Cancel process context.
func (i *InputProcess) Cancel() {
	i.cancel()
}

func (i *InputProcess) start(ctx context.Context, m *Monitor) {
	for {
		if ctx.Err() != nil {
			m.Log.Info().
				Src("monitor").
				Monitor(i.M.Config.ID()).
				Msgf("%v process: stopped", i.ProcessName())

			m.WG.Done()

			return
		}

		if err := i.runInputProcess(ctx, i); err != nil {
			m.Log.Error().
				Src("monitor").
				Monitor(i.M.Config.ID()).
				Msgf("%v process: crashed: %v", i.ProcessName(), err)

			time.Sleep(1 * time.Second)
			continue
		}
	}
}

func runInputProcess(ctx context.Context, i *InputProcess) error {
	var err error
	i.size, err = i.sizeFromStream(i.input())
	if err != nil {
		return fmt.Errorf("could not get size of stream: %w", err)
	}

	serverPath, err := i.M.video.NewPath(ctx, i.pathName(), video.PathConf{
		MonitorID: i.M.Config.ID(),
		IsSub:     i.isSubInput,
	})
	if err != nil {
		return fmt.Errorf("register video server path: %w", err)
	}
	i.serverPath = serverPath

	processCTX, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	args := ffmpeg.ParseArgs(i.generateArgs())

	i.M.hooks.StartInput(processCTX, i, &args)

	cmd := exec.Command(i.M.Env.FFmpegBin, args...)

	id := i.M.Config.ID()

	logFunc := func(msg string) {
		i.M.Log.FFmpegLevel(i.M.Config.LogLevel()).
			Src("monitor").
			Monitor(id).
			Msgf("%v process: %v", i.ProcessName(), msg)
	}

	process := i.newProcess(cmd).
		Timeout(10 * time.Second).
		StdoutLogger(logFunc).
		StderrLogger(logFunc)

	i.M.Log.Info().
		Src("monitor").
		Monitor(id).
		Msgf("starting %v process: %v", i.ProcessName(), cmd)

	err = process.Start(processCTX) // Blocks until process exits.
	if err != nil {
		cancel()
		return fmt.Errorf("crashed: %w", err)
	}

	cancel()
	return nil
}

// SendEventFunc send event signature.
type SendEventFunc func(storage.Event) error

// SendEvent sends event to monitor. The write-durable Recorder owns the
// trigger/event-window logic; this just validates and forwards.
func (m *Monitor) SendEvent(event storage.Event) error {
	m.Mu.Lock()
	if !m.running {
		m.Mu.Unlock()
		return context.Canceled
	}
	recorder := m.recorder
	m.Mu.Unlock()

	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return recorder.sendEvent(event)
}

// Stop monitor.
func (m *Monitor) Stop() {
	m.Mu.Lock()
	m.running = false
	m.Mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.WG.Wait()
}

// StopAll monitors.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, monitor := range m.Monitors {
		monitor.Stop()
	}
	m.mu.Unlock()
}

func (m *Monitor) alwaysRecord() bool {
	return m.Config["alwaysRecord"] == "true"
}

// ID returns id of monitor.
func (m *Monitor) ID() string {
	return m.Config.ID()
}

// SubInputEnabled if sub input is available.
func (m *Monitor) SubInputEnabled() bool {
	return m.Config.SubInputEnabled()
}
