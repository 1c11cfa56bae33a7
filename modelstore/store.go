// Package modelstore persists models as JSON files in a models directory,
// one file per model named after it. The on-disk format is the historical
// pi-tx layout: a "chN"-keyed channel map plus a processors object with
// reverse, endpoints, differential and aggregate sections. Parsing is
// tolerant, bad channel entries are skipped with a log line rather than
// failing the whole file.
package modelstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	pitxerrors "github.com/filimon-danopoulos/pi-tx/errors"
	"github.com/filimon-danopoulos/pi-tx/model"
)

// DefaultDir is the models directory used when none is configured.
const DefaultDir = "models"

// Store reads and writes model files under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Deps holds dependencies for a model store.
type Deps struct {
	Dir    string
	Logger *slog.Logger
}

// New creates a model store rooted at deps.Dir.
func New(deps Deps) *Store {
	dir := deps.Dir
	if dir == "" {
		dir = DefaultDir
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "modelstore")
	}
	return &Store{dir: dir, logger: logger}
}

// List returns the names of all stored models, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pitxerrors.Wrap(err, "modelstore", "List", "read models directory")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads a model by name. A missing file is ErrModelNotFound; a file
// that cannot be decoded at all is ErrModelCorrupted.
func (s *Store) Load(name string) (*model.Model, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pitxerrors.WrapInvalid(pitxerrors.ErrModelNotFound,
				"modelstore", "Load", fmt.Sprintf("model %q", name))
		}
		return nil, pitxerrors.Wrap(err, "modelstore", "Load", "read model file")
	}

	var file modelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, pitxerrors.WrapInvalid(pitxerrors.ErrModelCorrupted,
			"modelstore", "Load", fmt.Sprintf("decode model %q: %v", name, err))
	}

	m, err := s.assemble(name, &file)
	if err != nil {
		return nil, pitxerrors.WrapInvalid(err, "modelstore", "Load",
			fmt.Sprintf("assemble model %q", name))
	}
	return m, nil
}

// Save writes a model to disk, replacing any previous file atomically.
func (s *Store) Save(m *model.Model) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return pitxerrors.Wrap(err, "modelstore", "Save", "create models directory")
	}

	file := encode(m)
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return pitxerrors.Wrap(err, "modelstore", "Save", "encode model")
	}

	// Write-then-rename so a crash mid-write never corrupts the model.
	tmp := s.path(m.Name()) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pitxerrors.Wrap(err, "modelstore", "Save", "write model file")
	}
	if err := os.Rename(tmp, s.path(m.Name())); err != nil {
		_ = os.Remove(tmp)
		return pitxerrors.Wrap(err, "modelstore", "Save", "replace model file")
	}
	return nil
}

// Delete removes a stored model. Deleting a missing model is an error.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return pitxerrors.WrapInvalid(pitxerrors.ErrModelNotFound,
				"modelstore", "Delete", fmt.Sprintf("model %q", name))
		}
		return pitxerrors.Wrap(err, "modelstore", "Delete", "remove model file")
	}
	return nil
}

// Exists reports whether a model file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// modelFile is the on-disk shape of a model.
type modelFile struct {
	Channels      map[string]channelEntry `json:"channels"`
	Processors    *processorsEntry        `json:"processors,omitempty"`
	ModelID       string                  `json:"model_id,omitempty"`
	RxNum         int                     `json:"rx_num,omitempty"`
	BindTimestamp string                  `json:"bind_timestamp,omitempty"`
}

// channelEntry tolerates both the current and legacy field spellings.
// control_code may be a number or a string in old files.
type channelEntry struct {
	ControlType string          `json:"control_type,omitempty"`
	LegacyType  string          `json:"type,omitempty"`
	DevicePath  string          `json:"device_path,omitempty"`
	ControlCode json.RawMessage `json:"control_code,omitempty"`
	DeviceName  string          `json:"device_name,omitempty"`
	ControlName string          `json:"control_name,omitempty"`
}

type processorsEntry struct {
	Reverse      map[string]bool          `json:"reverse,omitempty"`
	Endpoints    map[string]endpointEntry `json:"endpoints,omitempty"`
	Differential []differentialEntry      `json:"differential,omitempty"`
	Aggregate    []aggregateEntry         `json:"aggregate,omitempty"`
}

type endpointEntry struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type differentialEntry struct {
	Left    string `json:"left"`
	Right   string `json:"right"`
	Inverse bool   `json:"inverse"`
}

type aggregateEntry struct {
	Channels []aggregateChannelEntry `json:"channels"`
	Target   string                  `json:"target,omitempty"`
}

type aggregateChannelEntry struct {
	ID     string  `json:"id"`
	Weight float64 `json:"value"`
}

// assemble turns a decoded file into a validated model via the builder.
func (s *Store) assemble(name string, file *modelFile) (*model.Model, error) {
	b := model.NewBuilder(name)
	b.SetRxNum(file.RxNum)
	if file.ModelID != "" {
		b.SetModelID(file.ModelID)
	}
	if file.BindTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, file.BindTimestamp); err == nil {
			b.SetBindTimestamp(ts)
		} else {
			s.logger.Debug("skipping unparseable bind timestamp",
				"model", name, "value", file.BindTimestamp)
		}
	}

	for _, key := range sortedKeys(file.Channels) {
		entry := file.Channels[key]
		ch, err := decodeChannel(key, entry)
		if err != nil {
			s.logger.Debug("skipping channel entry",
				"model", name, "key", key, "error", err)
			continue
		}
		if err := b.AddChannel(ch); err != nil {
			return nil, err
		}
	}

	// The on-disk format keys processors by type, so files cannot express
	// an arbitrary pipeline order. Rebuild in the fixed runtime order:
	// differential, aggregate, reverse, endpoints.
	if p := file.Processors; p != nil {
		if len(p.Differential) > 0 {
			b.AddProcessor(decodeDifferential(p.Differential))
		}
		if len(p.Aggregate) > 0 {
			b.AddProcessor(decodeAggregate(p.Aggregate))
		}
		if len(p.Reverse) > 0 {
			b.AddProcessor(decodeReverse(p.Reverse))
		}
		if len(p.Endpoints) > 0 {
			b.AddProcessor(decodeEndpoints(p.Endpoints))
		}
	}

	return b.Build()
}

func decodeChannel(key string, entry channelEntry) (model.Channel, error) {
	id, err := channelID(key)
	if err != nil {
		return model.Channel{}, err
	}

	kindName := entry.ControlType
	if kindName == "" {
		kindName = entry.LegacyType
	}
	if kindName == "" {
		kindName = "unipolar"
	}

	code := rawString(entry.ControlCode)
	if entry.DevicePath == "" && code == "virtual" {
		logical, err := logicalKind(kindName)
		if err != nil {
			return model.Channel{}, err
		}
		ch := model.NewVirtual(id, logical)
		ch.ControlName = entry.ControlName
		return ch, nil
	}

	if len(entry.ControlCode) == 0 {
		return model.Channel{}, fmt.Errorf("missing control_code")
	}

	var ch model.Channel
	switch kindName {
	case "bipolar":
		ch = model.NewBipolar(id, entry.DevicePath, code)
	case "unipolar":
		ch = model.NewUnipolar(id, entry.DevicePath, code)
	case "button":
		ch = model.NewButton(id, entry.DevicePath, code)
	case "latching-button":
		ch = model.NewLatchingButton(id, entry.DevicePath, code)
	default:
		return model.Channel{}, fmt.Errorf("unknown control_type %q", kindName)
	}
	ch.DeviceName = entry.DeviceName
	ch.ControlName = entry.ControlName
	return ch, nil
}

func logicalKind(name string) (model.ChannelKind, error) {
	switch name {
	case "bipolar":
		return model.KindBipolar, nil
	case "unipolar":
		return model.KindUnipolar, nil
	case "button":
		return model.KindButton, nil
	default:
		return 0, fmt.Errorf("virtual channel with control_type %q", name)
	}
}

func decodeReverse(raw map[string]bool) model.Reverse {
	p := model.Reverse{Channels: make(map[int]bool, len(raw))}
	for key, flag := range raw {
		if id, err := channelID(key); err == nil {
			p.Channels[id] = flag
		}
	}
	return p
}

func decodeEndpoints(raw map[string]endpointEntry) model.Endpoint {
	p := model.Endpoint{Endpoints: make(map[int]model.Range, len(raw))}
	for key, rng := range raw {
		if id, err := channelID(key); err == nil {
			p.Endpoints[id] = model.Range{Min: rng.Min, Max: rng.Max}
		}
	}
	return p
}

func decodeDifferential(raw []differentialEntry) model.Differential {
	p := model.Differential{}
	for _, entry := range raw {
		left, lerr := channelID(entry.Left)
		right, rerr := channelID(entry.Right)
		if lerr != nil || rerr != nil {
			continue
		}
		p.Mixes = append(p.Mixes, model.DifferentialMix{
			Left: left, Right: right, Inverse: entry.Inverse,
		})
	}
	return p
}

func decodeAggregate(raw []aggregateEntry) model.Aggregate {
	p := model.Aggregate{}
	for _, entry := range raw {
		target, err := channelID(entry.Target)
		if err != nil {
			continue
		}
		mix := model.AggregateMix{Target: target}
		for _, in := range entry.Channels {
			id, err := channelID(in.ID)
			if err != nil {
				continue
			}
			mix.Inputs = append(mix.Inputs, model.NewAggregateInput(id, in.Weight))
		}
		if len(mix.Inputs) > 0 {
			p.Mixes = append(p.Mixes, mix)
		}
	}
	return p
}

// encode converts a model back into the on-disk shape.
func encode(m *model.Model) *modelFile {
	file := &modelFile{
		Channels: make(map[string]channelEntry, m.NumChannels()),
		ModelID:  m.ModelID(),
		RxNum:    m.RxNum(),
	}
	if ts := m.BindTimestamp(); !ts.IsZero() {
		file.BindTimestamp = ts.Format(time.RFC3339)
	}

	for _, ch := range m.Channels() {
		entry := channelEntry{
			ControlType: ch.LogicalKind().String(),
			DeviceName:  ch.DeviceName,
			ControlName: ch.ControlName,
		}
		if ch.Kind == model.KindVirtual {
			entry.ControlCode = json.RawMessage(`"virtual"`)
		} else {
			entry.ControlType = ch.Kind.String()
			entry.DevicePath = ch.DevicePath
			code, _ := json.Marshal(ch.ControlCode)
			entry.ControlCode = code
		}
		file.Channels[channelKey(ch.ID)] = entry
	}

	procs := &processorsEntry{}
	for _, p := range m.Processors() {
		switch p := p.(type) {
		case model.Reverse:
			if procs.Reverse == nil {
				procs.Reverse = make(map[string]bool)
			}
			for id, flag := range p.Channels {
				procs.Reverse[channelKey(id)] = flag
			}
		case model.Endpoint:
			if procs.Endpoints == nil {
				procs.Endpoints = make(map[string]endpointEntry)
			}
			for id, rng := range p.Endpoints {
				procs.Endpoints[channelKey(id)] = endpointEntry{Min: rng.Min, Max: rng.Max}
			}
		case model.Differential:
			for _, mix := range p.Mixes {
				procs.Differential = append(procs.Differential, differentialEntry{
					Left:    channelKey(mix.Left),
					Right:   channelKey(mix.Right),
					Inverse: mix.Inverse,
				})
			}
		case model.Aggregate:
			for _, mix := range p.Mixes {
				entry := aggregateEntry{Target: channelKey(mix.Target)}
				for _, in := range mix.Inputs {
					entry.Channels = append(entry.Channels, aggregateChannelEntry{
						ID: channelKey(in.Channel), Weight: in.Weight,
					})
				}
				procs.Aggregate = append(procs.Aggregate, entry)
			}
		}
	}
	if procs.Reverse != nil || procs.Endpoints != nil ||
		procs.Differential != nil || procs.Aggregate != nil {
		file.Processors = procs
	}
	return file
}

// channelID parses a "chN" key into a channel id.
func channelID(key string) (int, error) {
	if !strings.HasPrefix(key, "ch") {
		return 0, fmt.Errorf("invalid channel key %q, expected ch<N>", key)
	}
	id, err := strconv.Atoi(key[2:])
	if err != nil {
		return 0, fmt.Errorf("invalid channel key %q: %w", key, err)
	}
	return id, nil
}

func channelKey(id int) string {
	return "ch" + strconv.Itoa(id)
}

// rawString decodes a JSON value that may be a string or a number into its
// string form. Old model files stored control codes as bare numbers.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.TrimSpace(string(raw))
}

func sortedKeys(m map[string]channelEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
