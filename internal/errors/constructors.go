package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

// Sync errors

func SyncFailed(repo string, cause error) *PipelineError {
	return Wrap(cause, CategorySync, SeverityError, "repository sync failed").
		WithContext("repository", repo)
}

func SyncNetworkError(repo string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "sync network error").
		WithContext("repository", repo)
}

// Pipeline errors

func DiscoveryFailed(root string, cause error) *PipelineError {
	return Wrap(cause, CategoryDiscovery, SeverityFatal, "unit discovery failed").
		WithContext("root", root)
}

func GenerationFailed(unit string, cause error) *PipelineError {
	return Wrap(cause, CategoryGeneration, SeverityError, "artifact generation failed").
		WithContext("unit", unit)
}

func TestRunFailed(unit string, cause error) *PipelineError {
	return Wrap(cause, CategoryTest, SeverityError, "test execution failed").
		WithContext("unit", unit)
}

func ReportEmissionFailed(path string, cause error) *PipelineError {
	return Wrap(cause, CategoryReport, SeverityFatal, "report emission failed").
		WithContext("path", path)
}

func CacheCorrupt(path string, cause error) *PipelineError {
	return Wrap(cause, CategoryCache, SeverityWarning, "cache unreadable, resetting").
		WithContext("path", path)
}

func WorkspaceError(operation string, cause error) *PipelineError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}
