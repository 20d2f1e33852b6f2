package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/jmoiron/sqlx"
)

const incidentColumns = `id, dataset_id, dr_no, date_rptd, date_time_occ, time_occ,
	area_id, area_name, rpt_dist_no, part_1, crime_code, crime_code_desc, mocodes,
	vict_age, vict_sex, vict_descent, premis_cd, premis_desc, weapon_used_cd, weapon_desc,
	status, status_desc, crm_cd_1, crm_cd_2, crm_cd_3, crm_cd_4,
	location, cross_street, lat, lon, created_at`

// pgIncidentColumns reads TIME back as HH:MM:SS text.
var pgIncidentColumns = strings.Replace(incidentColumns,
	"date_time_occ, time_occ,", "date_time_occ, to_char(time_occ, 'HH24:MI:SS') AS time_occ,", 1)

const insertIncident = `INSERT INTO incident (
	dataset_id, dr_no, date_rptd, date_time_occ, time_occ,
	area_id, area_name, rpt_dist_no, part_1, crime_code, crime_code_desc, mocodes,
	vict_age, vict_sex, vict_descent, premis_cd, premis_desc, weapon_used_cd, weapon_desc,
	status, status_desc, crm_cd_1, crm_cd_2, crm_cd_3, crm_cd_4,
	location, cross_street, lat, lon, created_at
) VALUES (
	:dataset_id, :dr_no, :date_rptd, :date_time_occ, :time_occ,
	:area_id, :area_name, :rpt_dist_no, :part_1, :crime_code, :crime_code_desc, :mocodes,
	:vict_age, :vict_sex, :vict_descent, :premis_cd, :premis_desc, :weapon_used_cd, :weapon_desc,
	:status, :status_desc, :crm_cd_1, :crm_cd_2, :crm_cd_3, :crm_cd_4,
	:location, :cross_street, :lat, :lon, :created_at
)`

// reader runs queries against a pool or a transaction. Queries are written
// with ? placeholders and rebound for the driver.
type reader struct {
	q sqlx.ExtContext
}

func (r reader) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r reader) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

func (r reader) columns() string {
	if r.q.DriverName() == DriverPostgres {
		return pgIncidentColumns
	}
	return incidentColumns
}

// hourExpr is the two-digit hour of time_occ.
func (r reader) hourExpr() string {
	if r.q.DriverName() == DriverPostgres {
		return "to_char(time_occ, 'HH24')"
	}
	return "SUBSTR(time_occ, 1, 2)"
}

func (r reader) DatasetExists(ctx context.Context, filePath string) (bool, error) {
	var n int
	if err := r.get(ctx, &n, `SELECT COUNT(*) FROM dataset WHERE file_path = ?`, filePath); err != nil {
		return false, fmt.Errorf("check dataset: %w", err)
	}
	return n > 0, nil
}

func (r reader) GetDataset(ctx context.Context, id int64) (domain.Dataset, error) {
	var d domain.Dataset
	err := r.get(ctx, &d, `SELECT id, created_at, file_path FROM dataset WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, &domain.NotFoundError{Resource: "dataset", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return d, nil
}

func (r reader) ListDatasets(ctx context.Context) ([]domain.DatasetSummary, error) {
	const q = `
		SELECT d.id, d.created_at, d.file_path, COUNT(i.id) AS incident_count
		FROM dataset d
		LEFT JOIN incident i ON i.dataset_id = d.id
		GROUP BY d.id, d.created_at, d.file_path
		ORDER BY d.id DESC`
	out := []domain.DatasetSummary{}
	if err := r.selectAll(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return out, nil
}

func (r reader) CountIncidents(ctx context.Context, datasetID int64) (int, error) {
	var n int
	if err := r.get(ctx, &n, `SELECT COUNT(*) FROM incident WHERE dataset_id = ?`, datasetID); err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return n, nil
}

func (r reader) AggregateLocationCounts(ctx context.Context, datasetID int64) ([]domain.LocationStat, error) {
	const q = `
		SELECT area_name, location, lat, lon, COUNT(*) AS incident_count
		FROM incident
		WHERE dataset_id = ? AND lat IS NOT NULL AND lon IS NOT NULL
		GROUP BY area_name, location, lat, lon
		ORDER BY area_name, location, lat, lon`
	out := []domain.LocationStat{}
	if err := r.selectAll(ctx, &out, q, datasetID); err != nil {
		return nil, fmt.Errorf("aggregate locations: %w", err)
	}
	return out, nil
}

func (r reader) RepresentativeIncident(ctx context.Context, datasetID int64, areaName, location string) (domain.Incident, error) {
	q := `SELECT ` + r.columns() + `
		FROM incident
		WHERE dataset_id = ? AND area_name = ? AND location = ?
		ORDER BY id
		LIMIT 1`
	var inc domain.Incident
	err := r.get(ctx, &inc, q, datasetID, areaName, location)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Incident{}, &domain.NotFoundError{Resource: "incident", ID: areaName + "/" + location}
	}
	if err != nil {
		return domain.Incident{}, fmt.Errorf("representative incident: %w", err)
	}
	return inc, nil
}

func (r reader) QueryIncidents(ctx context.Context, iq domain.IncidentQuery) (domain.IncidentPage, error) {
	where, args := incidentFilter(iq.DatasetID, iq.Range)
	if iq.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(iq.Search)) + "%"
		where += ` AND (LOWER(crime_code_desc) LIKE ? ESCAPE '\' OR LOWER(location) LIKE ? ESCAPE '\' OR LOWER(area_name) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}

	page := domain.IncidentPage{Page: iq.Page, PageSize: iq.PageSize, Incidents: []domain.Incident{}}
	if err := r.get(ctx, &page.Total, `SELECT COUNT(*) FROM incident WHERE `+where, args...); err != nil {
		return domain.IncidentPage{}, fmt.Errorf("count incidents: %w", err)
	}

	offset := max(iq.Page-1, 0) * iq.PageSize
	q := `SELECT ` + r.columns() + ` FROM incident WHERE ` + where +
		` ORDER BY date_time_occ DESC, id ASC LIMIT ? OFFSET ?`
	if err := r.selectAll(ctx, &page.Incidents, q, append(args, iq.PageSize, offset)...); err != nil {
		return domain.IncidentPage{}, fmt.Errorf("query incidents: %w", err)
	}
	return page, nil
}

func (r reader) CountBy(ctx context.Context, datasetID int64, dim domain.ChartDimension, dr domain.DateRange) ([]domain.ChartBucket, error) {
	var expr string
	switch dim {
	case domain.ByArea:
		expr = "area_name"
	case domain.ByType:
		expr = "crime_code_desc"
	case domain.ByHour:
		expr = r.hourExpr()
	default:
		return nil, domain.ErrUnknownDimension
	}

	where, args := incidentFilter(datasetID, dr)
	q := `SELECT ` + expr + ` AS label, COUNT(*) AS incident_count FROM incident WHERE ` + where +
		` GROUP BY ` + expr
	out := []domain.ChartBucket{}
	if err := r.selectAll(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("count by %s: %w", dim, err)
	}
	slices.SortFunc(out, domain.CompareBuckets(dim))
	return out, nil
}

func incidentFilter(datasetID int64, dr domain.DateRange) (string, []any) {
	where := "dataset_id = ?"
	args := []any{datasetID}
	if !dr.Start.IsZero() {
		where += " AND date_time_occ >= ?"
		args = append(args, dr.Start)
	}
	if !dr.End.IsZero() {
		where += " AND date_time_occ < ?"
		args = append(args, dr.EndExclusive())
	}
	return where, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
