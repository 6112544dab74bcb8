package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cost"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// ContainerSample is one stored container record with its derived cost
type ContainerSample struct {
	Record      power.ContainerRecord `json:"record"`
	Cost        cost.Result           `json:"cost"`
	CollectedAt time.Time             `json:"collected_at"`
}

// NodeSample is one stored node record with its derived cost
type NodeSample struct {
	Record      power.NodeRecord `json:"record"`
	Cost        cost.Result      `json:"cost"`
	CollectedAt time.Time        `json:"collected_at"`
}

// HistoryStore persists the output of collection passes
type HistoryStore interface {
	StoreContainers(samples []ContainerSample) error
	StoreNodes(samples []NodeSample) error
	GetContainerHistory(key power.EntityKey, start, end time.Time) ([]ContainerSample, error)
	GetNodeHistory(node string, start, end time.Time) ([]NodeSample, error)
	Cleanup(retentionDays int) error
	Close() error
}

// SQLiteStore implements HistoryStore using SQLite for local persistence
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	clock    clock.Clock
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

var _ HistoryStore = &SQLiteStore{}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(dbPath string, c clock.Clock) (*SQLiteStore, error) {
	if c == nil {
		c = clock.RealClock{}
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	s := &SQLiteStore{
		db:       db,
		dbPath:   dbPath,
		clock:    c,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %v", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %v", err)
	}

	klog.InfoS("Opened power history store", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS container_power_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collected_at DATETIME NOT NULL,
		sample_time DATETIME NOT NULL,
		namespace TEXT NOT NULL,
		pod_name TEXT NOT NULL,
		container_name TEXT NOT NULL,
		node_name TEXT NOT NULL,
		total_joules REAL NOT NULL,
		components TEXT NOT NULL, -- JSON map of component to joules
		labels TEXT,              -- JSON map of series labels
		energy_cost REAL NOT NULL,
		carbon_mass REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_container_key ON container_power_records(namespace, pod_name, container_name, collected_at);
	CREATE INDEX IF NOT EXISTS idx_container_collected_at ON container_power_records(collected_at);

	CREATE TABLE IF NOT EXISTS node_power_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collected_at DATETIME NOT NULL,
		sample_time DATETIME NOT NULL,
		node_name TEXT NOT NULL,
		platform_joules REAL NOT NULL,
		components TEXT NOT NULL,
		labels TEXT,
		energy_cost REAL NOT NULL,
		carbon_mass REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_node_key ON node_power_records(node_name, collected_at);
	CREATE INDEX IF NOT EXISTS idx_node_collected_at ON node_power_records(collected_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	statements := map[string]string{
		"insert_container": `
			INSERT INTO container_power_records (
				collected_at, sample_time, namespace, pod_name, container_name, node_name,
				total_joules, components, labels, energy_cost, carbon_mass
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_container": `
			SELECT collected_at, sample_time, namespace, pod_name, container_name, node_name,
				   components, labels, energy_cost, carbon_mass
			FROM container_power_records
			WHERE namespace = ? AND pod_name = ? AND container_name = ?
			  AND collected_at BETWEEN ? AND ?
			ORDER BY collected_at ASC, id ASC
		`,
		"insert_node": `
			INSERT INTO node_power_records (
				collected_at, sample_time, node_name, platform_joules, components, labels,
				energy_cost, carbon_mass
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_node": `
			SELECT collected_at, sample_time, node_name, components, labels, energy_cost, carbon_mass
			FROM node_power_records
			WHERE node_name = ? AND collected_at BETWEEN ? AND ?
			ORDER BY collected_at ASC, id ASC
		`,
		"cleanup_container": `
			DELETE FROM container_power_records
			WHERE collected_at < ?
		`,
		"cleanup_node": `
			DELETE FROM node_power_records
			WHERE collected_at < ?
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %v", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// StoreContainers saves one pass worth of container samples atomically
func (s *SQLiteStore) StoreContainers(samples []ContainerSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.prepared["insert_container"])
	for _, sample := range samples {
		r := sample.Record
		components, labels, err := marshalRecordMaps(r.Components, r.Labels)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(
			sample.CollectedAt.UTC(),
			r.Timestamp.UTC(),
			r.Namespace,
			r.PodName,
			r.ContainerName,
			r.NodeName,
			r.TotalJoules(),
			components,
			labels,
			sample.Cost.EnergyCost,
			sample.Cost.CarbonMass,
		); err != nil {
			return fmt.Errorf("failed to store container record %s: %v", r.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit container records: %v", err)
	}

	klog.V(3).InfoS("Stored container power records", "records", len(samples))
	return nil
}

// StoreNodes saves one pass worth of node samples atomically
func (s *SQLiteStore) StoreNodes(samples []NodeSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.prepared["insert_node"])
	for _, sample := range samples {
		r := sample.Record
		components, labels, err := marshalRecordMaps(r.Components, r.Labels)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(
			sample.CollectedAt.UTC(),
			r.Timestamp.UTC(),
			r.NodeName,
			r.TotalJoules(),
			components,
			labels,
			sample.Cost.EnergyCost,
			sample.Cost.CarbonMass,
		); err != nil {
			return fmt.Errorf("failed to store node record %s: %v", r.NodeName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit node records: %v", err)
	}

	klog.V(3).InfoS("Stored node power records", "records", len(samples))
	return nil
}

// GetContainerHistory retrieves the samples of one container collected in [start, end]
func (s *SQLiteStore) GetContainerHistory(key power.EntityKey, start, end time.Time) ([]ContainerSample, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_container"].Query(key.Namespace, key.PodName, key.ContainerName, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query container history: %v", err)
	}
	defer rows.Close()

	var samples []ContainerSample
	for rows.Next() {
		var (
			sample     ContainerSample
			components string
			rawLabels  sql.NullString
		)
		err := rows.Scan(
			&sample.CollectedAt,
			&sample.Record.Timestamp,
			&sample.Record.Namespace,
			&sample.Record.PodName,
			&sample.Record.ContainerName,
			&sample.Record.NodeName,
			&components,
			&rawLabels,
			&sample.Cost.EnergyCost,
			&sample.Cost.CarbonMass,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		sample.Record.Components, sample.Record.Labels = unmarshalRecordMaps(components, rawLabels.String)
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return samples, nil
}

// GetNodeHistory retrieves the samples of one node collected in [start, end]
func (s *SQLiteStore) GetNodeHistory(node string, start, end time.Time) ([]NodeSample, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_node"].Query(node, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query node history: %v", err)
	}
	defer rows.Close()

	var samples []NodeSample
	for rows.Next() {
		var (
			sample     NodeSample
			components string
			rawLabels  sql.NullString
		)
		err := rows.Scan(
			&sample.CollectedAt,
			&sample.Record.Timestamp,
			&sample.Record.NodeName,
			&components,
			&rawLabels,
			&sample.Cost.EnergyCost,
			&sample.Cost.CarbonMass,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		sample.Record.Components, sample.Record.Labels = unmarshalRecordMaps(components, rawLabels.String)
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return samples, nil
}

// Cleanup removes records collected before the retention period
func (s *SQLiteStore) Cleanup(retentionDays int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays).UTC()

	var deleted int64
	for _, name := range []string{"cleanup_container", "cleanup_node"} {
		result, err := s.prepared[name].Exec(cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup old records: %v", err)
		}
		n, _ := result.RowsAffected()
		deleted += n
	}

	klog.V(2).InfoS("Cleaned up old power records",
		"cutoff", cutoff,
		"rowsDeleted", deleted)

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stmt := range s.prepared {
		stmt.Close()
	}

	return s.db.Close()
}

func marshalRecordMaps(components power.Components, labels map[string]string) (string, string, error) {
	c, err := json.Marshal(components)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal components: %v", err)
	}
	l, err := json.Marshal(labels)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal labels: %v", err)
	}
	return string(c), string(l), nil
}

func unmarshalRecordMaps(components, labels string) (power.Components, map[string]string) {
	c := power.Components{}
	if err := json.Unmarshal([]byte(components), &c); err != nil {
		klog.V(2).InfoS("Failed to unmarshal stored components", "error", err)
	}
	l := map[string]string{}
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &l); err != nil {
			klog.V(2).InfoS("Failed to unmarshal stored labels", "error", err)
		}
	}
	return c, l
}
