package uplink

// Request is a mergeable batch of data to upload.
//
// Backends serialize their records (history rows, scalar events,
// attribute operations) to strings before pushing them, so the
// pipeline stays agnostic of each service's wire format.
type Request struct {
	// Records are serialized records in logging order.
	Records []string

	// SummaryJSON is the serialized run summary. Merging keeps the
	// newest value.
	SummaryJSON *string

	// ExitCode marks the run complete. Merging keeps the newest
	// value.
	ExitCode *int32
}

// Merge folds another request into this one. The other request's
// records come after this one's.
func (r *Request) Merge(other *Request) {
	r.Records = append(r.Records, other.Records...)
	if other.SummaryJSON != nil {
		r.SummaryJSON = other.SummaryJSON
	}
	if other.ExitCode != nil {
		r.ExitCode = other.ExitCode
	}
}

// IsEmpty returns whether the request carries no data.
func (r *Request) IsEmpty() bool {
	return len(r.Records) == 0 && r.SummaryJSON == nil && r.ExitCode == nil
}

// Split breaks the request into chunks of at most maxRecords records.
//
// The summary and exit code travel with the last chunk so that the
// run is never marked complete before its data arrives.
func (r *Request) Split(maxRecords int) []*Request {
	if maxRecords <= 0 || len(r.Records) <= maxRecords {
		return []*Request{r}
	}

	var chunks []*Request
	records := r.Records
	for len(records) > maxRecords {
		chunks = append(chunks, &Request{Records: records[:maxRecords]})
		records = records[maxRecords:]
	}
	chunks = append(chunks, &Request{
		Records:     records,
		SummaryJSON: r.SummaryJSON,
		ExitCode:    r.ExitCode,
	})

	return chunks
}
