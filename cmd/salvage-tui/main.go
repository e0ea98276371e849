package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/shubham/salvage/internal/blockreader"
	"github.com/shubham/salvage/internal/carver"
	"github.com/shubham/salvage/internal/coordinator"
	"github.com/shubham/salvage/internal/device"
	"github.com/shubham/salvage/internal/disk"
	"github.com/shubham/salvage/internal/exfat"
	"github.com/shubham/salvage/internal/fat32"
	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/ntfs"
	"github.com/shubham/salvage/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)
)

// State represents the current screen
type State int

const (
	StateWelcome State = iota
	StateSelectSource
	StateSelectDevice
	StateEnterPath
	StateSelectProfile
	StateConfirm
	StateRunning
	StateResults
)

// Source type
type SourceType int

const (
	SourceDevice SourceType = iota
	SourceImage
)

type profileItem struct {
	profile model.CameraProfile
	desc    string
}

func (i profileItem) Title() string       { return string(i.profile) }
func (i profileItem) Description() string { return i.desc }
func (i profileItem) FilterValue() string { return string(i.profile) }

type sourceItem struct {
	name string
	desc string
}

func (i sourceItem) Title() string       { return i.name }
func (i sourceItem) Description() string { return i.desc }
func (i sourceItem) FilterValue() string { return i.name }

type deviceItem struct {
	device device.Device
}

func (i deviceItem) Title() string { return fmt.Sprintf("%s - %s", i.device.Path, i.device.Name) }
func (i deviceItem) Description() string {
	return fmt.Sprintf("%s | %s", i.device.SizeHuman, i.device.Filesystem)
}
func (i deviceItem) FilterValue() string { return i.device.Path }

type devicesLoadedMsg struct {
	devices []device.Device
	err     error
}

// scanEventMsg wraps one coordinator event for the bubbletea loop.
type scanEventMsg struct {
	event model.ScanEvent
	ok    bool
}

type scanStartedMsg struct {
	coord   *coordinator.Coordinator
	reader  *blockreader.DirectReader
	cancel  context.CancelFunc
	sessID  string
	declSz  int64
	err     error
}

type mainModel struct {
	state  State
	width  int
	height int
	err    error

	sourceType SourceType
	sourceList list.Model

	devices        []device.Device
	deviceList     list.Model
	selectedDevice *device.Device

	pathInput textinput.Model
	imagePath string

	profileList     list.Model
	selectedProfile model.CameraProfile

	spinner  spinner.Model
	progress progress.Model

	coord      *coordinator.Coordinator
	reader     *blockreader.DirectReader
	cancelScan context.CancelFunc
	sessionID  string
	declaredSz int64

	foundCount int
	lastFile   string
}

func initialModel() mainModel {
	sourceItems := []list.Item{
		sourceItem{name: "Physical Device", desc: "Recover from a connected drive (USB, HDD, SSD)"},
		sourceItem{name: "Disk Image", desc: "Recover from a .img, .dd, or .raw file"},
	}
	sourceList := list.New(sourceItems, list.NewDefaultDelegate(), 0, 0)
	sourceList.Title = "Select Recovery Source"
	sourceList.SetShowStatusBar(false)
	sourceList.SetFilteringEnabled(false)

	profileItems := []list.Item{
		profileItem{profile: model.ProfileGeneric, desc: "No camera-specific naming or promotion"},
		profileItem{profile: model.ProfileGoPro, desc: "GOPR-prefixed names"},
		profileItem{profile: model.ProfileCanon, desc: "Always-on CR2 promotion, IMG_-prefixed names"},
		profileItem{profile: model.ProfileSony, desc: "TIFF hits promoted to ARW"},
		profileItem{profile: model.ProfileDJI, desc: "TIFF hits promoted to DNG, DJI_-prefixed names"},
	}
	profileList := list.New(profileItems, list.NewDefaultDelegate(), 0, 0)
	profileList.Title = "Select Camera Profile"
	profileList.SetShowStatusBar(false)
	profileList.SetFilteringEnabled(false)

	pathInput := textinput.New()
	pathInput.Placeholder = "/path/to/disk.img"
	pathInput.Focus()
	pathInput.Width = 50

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	p := progress.New(progress.WithDefaultGradient())

	return mainModel{
		state:           StateWelcome,
		sourceList:      sourceList,
		profileList:     profileList,
		pathInput:       pathInput,
		spinner:         s,
		progress:        p,
		selectedProfile: model.ProfileGeneric,
	}
}

func (m mainModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m mainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != StateRunning {
				if m.reader != nil {
					m.reader.Stop()
				}
				return m, tea.Quit
			}
			if m.cancelScan != nil {
				m.cancelScan()
			}
		case "esc":
			if m.state > StateWelcome && m.state != StateRunning && m.state != StateResults {
				m.state--
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.sourceList.SetSize(msg.Width-4, msg.Height-10)
		m.profileList.SetSize(msg.Width-4, msg.Height-10)
		if m.deviceList.Items() != nil {
			m.deviceList.SetSize(msg.Width-4, msg.Height-10)
		}
		m.progress.Width = msg.Width - 8
		return m, nil

	case devicesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.devices = msg.devices
		items := make([]list.Item, len(msg.devices))
		for i, d := range msg.devices {
			items[i] = deviceItem{device: d}
		}
		m.deviceList = list.New(items, list.NewDefaultDelegate(), m.width-4, m.height-10)
		m.deviceList.Title = "Select Device"
		m.deviceList.SetShowStatusBar(false)
		m.state = StateSelectDevice
		return m, nil

	case scanStartedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = StateResults
			return m, nil
		}
		m.coord = msg.coord
		m.reader = msg.reader
		m.cancelScan = msg.cancel
		m.sessionID = msg.sessID
		m.declaredSz = msg.declSz
		return m, listenForEvents(m.coord)

	case scanEventMsg:
		if !msg.ok {
			return m, nil
		}
		switch msg.event.Kind {
		case model.EventFileFound:
			m.foundCount++
			m.lastFile = fmt.Sprintf("%s.%s", msg.event.File.DisplayName, msg.event.File.Extension)
		case model.EventProgress:
			cmd := m.progress.SetPercent(msg.event.Progress)
			return m, tea.Batch(cmd, listenForEvents(m.coord))
		case model.EventCompleted:
			m.state = StateResults
			return m, nil
		}
		return m, listenForEvents(m.coord)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		newModel, cmd := m.progress.Update(msg)
		if p, ok := newModel.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd
	}

	switch m.state {
	case StateWelcome:
		return m.updateWelcome(msg)
	case StateSelectSource:
		return m.updateSelectSource(msg)
	case StateSelectDevice:
		return m.updateSelectDevice(msg)
	case StateEnterPath:
		return m.updateEnterPath(msg)
	case StateSelectProfile:
		return m.updateSelectProfile(msg)
	case StateConfirm:
		return m.updateConfirm(msg)
	case StateResults:
		return m.updateResults(msg)
	}

	return m, nil
}

func (m mainModel) updateWelcome(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		m.state = StateSelectSource
	}
	return m, nil
}

func (m mainModel) updateSelectSource(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		selected := m.sourceList.SelectedItem()
		if selected != nil {
			if strings.Contains(selected.(sourceItem).name, "Device") {
				m.sourceType = SourceDevice
				return m, loadDevices
			}
			m.sourceType = SourceImage
			m.state = StateEnterPath
			m.pathInput.Focus()
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.sourceList, cmd = m.sourceList.Update(msg)
	return m, cmd
}

func (m mainModel) updateSelectDevice(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		selected := m.deviceList.SelectedItem()
		if selected != nil {
			dev := selected.(deviceItem).device
			m.selectedDevice = &dev
			m.imagePath = dev.Path
			m.state = StateSelectProfile
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.deviceList, cmd = m.deviceList.Update(msg)
	return m, cmd
}

func (m mainModel) updateEnterPath(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		path := m.pathInput.Value()
		if path != "" {
			if strings.HasPrefix(path, "~") {
				home, _ := os.UserHomeDir()
				path = filepath.Join(home, path[1:])
			}
			m.imagePath = path
			m.state = StateSelectProfile
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m mainModel) updateSelectProfile(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		selected := m.profileList.SelectedItem()
		if selected != nil {
			m.selectedProfile = selected.(profileItem).profile
			m.state = StateConfirm
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.profileList, cmd = m.profileList.Update(msg)
	return m, cmd
}

func (m mainModel) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "y", "Y", "enter":
			m.state = StateRunning
			return m, tea.Batch(m.spinner.Tick, startScan(m.imagePath, m.selectedProfile, m.selectedDevice))
		case "n", "N":
			m.state = StateSelectSource
		}
	}
	return m, nil
}

func (m mainModel) updateResults(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter", "q":
			if m.reader != nil {
				m.reader.Stop()
			}
			return m, tea.Quit
		case "r":
			return initialModel(), nil
		}
	}
	return m, nil
}

func loadDevices() tea.Msg {
	devices, err := device.List()
	return devicesLoadedMsg{devices: devices, err: err}
}

// startScan opens the target, resolves its filesystem, and kicks off the
// coordinator in a background goroutine. The caller switches to
// listenForEvents once it has a live Coordinator. When the target was
// picked from the device list (rather than typed as an image path), dev's
// ToTarget() supplies the filesystem hint and declared size up front —
// device.List() already asked the OS, so there is no reason to re-probe
// the boot sector when the OS already told us.
func startScan(path string, camProfile model.CameraProfile, dev *device.Device) tea.Cmd {
	return func() tea.Msg {
		reader := blockreader.NewDirect(path)
		if err := reader.Start(); err != nil {
			return scanStartedMsg{err: err}
		}

		var hint model.FilesystemHint
		var declSz int64
		if dev != nil {
			target := dev.ToTarget()
			hint = target.FilesystemHint
			declSz = target.DeclaredSize
		}
		if hint == "" || hint == model.FSOther {
			hint, _ = disk.DetectFilesystem(reader)
		}
		if readerSz := reader.Size(); readerSz > 0 {
			declSz = readerSz
		}

		store, err := session.Open("sessions.db")
		if err != nil {
			reader.Stop()
			return scanStartedMsg{err: err}
		}
		sessID := session.NewID()

		coord := coordinator.New()
		ctx, cancel := context.WithCancel(context.Background())

		var producers []coordinator.CatalogProducer
		switch hint {
		case model.FSFAT32:
			producers = append(producers, func(ctx context.Context, onFile func(model.RecoverableFile)) error {
				s, err := fat32.Open(reader)
				if err != nil {
					return err
				}
				return s.Scan(onFile)
			})
		case model.FSExFAT:
			producers = append(producers, func(ctx context.Context, onFile func(model.RecoverableFile)) error {
				s, err := exfat.Open(reader)
				if err != nil {
					return err
				}
				return s.Scan(onFile)
			})
		case model.FSNTFS:
			producers = append(producers, func(ctx context.Context, onFile func(model.RecoverableFile)) error {
				s, err := ntfs.Open(reader)
				if err != nil {
					return err
				}
				return s.Scan(onFile)
			})
		}

		read := func(offset int64, length int) ([]byte, error) {
			buf := make([]byte, length)
			n, err := reader.Read(buf, offset, length)
			if err != nil && n == 0 {
				return nil, err
			}
			return buf[:n], nil
		}
		carve := func(ctx context.Context, existing map[int64]struct{}, start int64, seq int, onFile func(model.RecoverableFile), onProgress func(float64)) (int, error) {
			return carver.Scan(ctx, read, start, declSz, seq, carver.Options{
				ExistingOffsets: existing,
				Profile:         camProfile,
				OnFile:          onFile,
				OnProgress:      onProgress,
			})
		}

		go func() {
			defer store.Close()
			coord.RunCatalogAndCarve(ctx, producers, 0, declSz, carve)
			sess := coord.Snapshot(sessID, session.NowUTC(), path, declSz, 0)
			_ = store.Save(sess)
		}()

		return scanStartedMsg{coord: coord, reader: reader, cancel: cancel, sessID: sessID, declSz: declSz}
	}
}

// listenForEvents blocks on the coordinator's channel for exactly one
// event and feeds it back into the bubbletea loop; Update requeues this
// command after handling non-terminal events.
func listenForEvents(coord *coordinator.Coordinator) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-coord.Events()
		return scanEventMsg{event: ev, ok: ok}
	}
}

func (m mainModel) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render(" Salvage Recovery "))
	s.WriteString("\n\n")

	switch m.state {
	case StateWelcome:
		s.WriteString(m.viewWelcome())
	case StateSelectSource:
		s.WriteString(m.sourceList.View())
	case StateSelectDevice:
		s.WriteString(m.deviceList.View())
	case StateEnterPath:
		s.WriteString(m.viewEnterPath())
	case StateSelectProfile:
		s.WriteString(m.profileList.View())
	case StateConfirm:
		s.WriteString(m.viewConfirm())
	case StateRunning:
		s.WriteString(m.viewRunning())
	case StateResults:
		s.WriteString(m.viewResults())
	}

	if m.err != nil {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press q to quit - esc to go back"))
	return s.String()
}

func (m mainModel) viewWelcome() string {
	var s strings.Builder
	s.WriteString(subtitleStyle.Render("Welcome to Salvage"))
	s.WriteString("\n\n")
	s.WriteString("Recovers deleted images and videos from:\n")
	s.WriteString("  - FAT32 / exFAT / NTFS volumes\n")
	s.WriteString("  - Raw disk images (.img, .dd, .raw)\n\n")
	s.WriteString(lipgloss.NewStyle().Bold(true).Render("Important:"))
	s.WriteString(" the source is opened read-only.\n\n")
	s.WriteString(selectedStyle.Render("Press Enter to continue..."))
	return s.String()
}

func (m mainModel) viewEnterPath() string {
	var s strings.Builder
	s.WriteString(subtitleStyle.Render("Enter Disk Image Path"))
	s.WriteString("\n\n")
	s.WriteString(m.pathInput.View())
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press Enter to continue"))
	return s.String()
}

func (m mainModel) viewConfirm() string {
	var s strings.Builder
	s.WriteString(subtitleStyle.Render("Confirm Scan Settings"))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("  Source:  %s\n", m.imagePath))
	s.WriteString(fmt.Sprintf("  Profile: %s\n", m.selectedProfile))
	s.WriteString("\n")
	s.WriteString(selectedStyle.Render("Press Y to start, N to go back"))
	return s.String()
}

func (m mainModel) viewRunning() string {
	var s strings.Builder
	s.WriteString(m.spinner.View())
	s.WriteString(fmt.Sprintf(" Scanning %s...\n\n", humanize.Bytes(uint64(m.declaredSz))))
	s.WriteString(m.progress.View())
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("Found so far: %d\n", m.foundCount))
	if m.lastFile != "" {
		s.WriteString(fmt.Sprintf("Last: %s\n", m.lastFile))
	}
	s.WriteString(helpStyle.Render("Press q to cancel"))
	return s.String()
}

func (m mainModel) viewResults() string {
	var s strings.Builder
	if m.err != nil {
		s.WriteString(errorStyle.Render("Recovery Failed"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Error: %v\n", m.err))
	} else {
		s.WriteString(successStyle.Render("Recovery Complete"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Found %d deleted files.\n", m.foundCount))
		s.WriteString(fmt.Sprintf("Session saved as %s.\n", m.sessionID))
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Press R to run again - Q to quit"))
	return s.String()
}

func main() {
	p := tea.NewProgram(initialModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
