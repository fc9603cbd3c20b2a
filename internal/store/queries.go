package store

// Shared by the gorm and sqlite stores; both accept '?' placeholders.
const (
	unconvertedQuery = `
SELECT i.series_uid, i.study_uid, i.instance_uid, i.instance_number, i.file_path,
       i.file_size, i.modality, COALESCE(f.status, '') AS status
FROM pipeline_instances i
LEFT JOIN pipeline_files f
       ON f.instance_uid = i.instance_uid AND f.type IN ('PNG', 'MASK')
WHERE i.series_uid = ?
  AND (f.status IS NULL OR f.status IN ('NEW', 'IN_PIPELINE'))
ORDER BY i.instance_number ASC`

	convertedQuery = `
SELECT i.series_uid, i.study_uid, i.instance_uid, i.instance_number, f.path AS file_path
FROM pipeline_instances i
JOIN pipeline_files f
  ON f.instance_uid = i.instance_uid AND f.type = 'PNG'
WHERE i.series_uid = ? AND f.status = 'DONE'
ORDER BY i.instance_number ASC`
)
