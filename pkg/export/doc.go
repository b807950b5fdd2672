// Package export provides backup, download and restore of the telemetry log.
//
// # Formats
//
// Raw:
//   - The persisted log exactly as stored: a JSON array of full and delta
//     records, each tagged with "_type"
//   - Smallest download; needs reconstruction to be read
//
// JSON:
//   - Reconstructed, fully populated samples plus export metadata
//   - Can be re-imported
//
// CSV:
//   - Reconstructed samples flattened for spreadsheets
//   - timestamp and local_time first, then one column per field
//   - Export-only
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - format: "raw", "json" or "csv" (default: raw)
//   - start, end: RFC 3339 bounds for json and csv (optional)
//   - fields: comma-separated CSV columns (optional)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?format=csv&start=2025-06-01T00:00:00Z" \
//	  -o solar.csv
//
// Import endpoint: POST /v1/import
// Content-Type: application/json
//
// The body is either a JSON export or a raw log. Samples are replayed through
// the delta codec in timestamp order, so the imported data is compressed
// against the live snapshot. Samples that are not newer than the newest
// sample already stored are rejected; the log never goes back in time.
//
// Example:
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @solar_data.json
//
// # Programmatic Usage
//
//	exporter := export.NewExporter(eng)
//	file, _ := os.Create("solar.csv")
//	defer file.Close()
//
//	result, err := exporter.ExportToCSV(ctx, file, export.ExportOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Exported %d samples\n", result.SamplesExported)
package export
