package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidType          ErrorCode = 102
	ErrCodeInvalidPeriod        ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104
	ErrCodeInvalidFraction      ErrorCode = 105
	ErrCodeInvalidTier          ErrorCode = 106

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeMalformedBar          ErrorCode = 203
	ErrCodeUnorderedBars         ErrorCode = 204

	// Indicator errors (300-399)
	ErrCodeIndicatorNotReady    ErrorCode = 300
	ErrCodeIndicatorCalculation ErrorCode = 301
	ErrCodeInsufficientData     ErrorCode = 302

	// Engine errors (400-499)
	ErrCodeEngineNotInitialized ErrorCode = 400
	ErrCodeEngineNoDataSource   ErrorCode = 401
	ErrCodeEngineNoResultsDir   ErrorCode = 402
	ErrCodeEngineRunFailed      ErrorCode = 403

	// Ledger errors (500-599)
	ErrCodeLedgerClosedTooMuch ErrorCode = 500
	ErrCodeLedgerWriteFailed   ErrorCode = 501

	// Store errors (600-699)
	ErrCodeStoreInitFailed   ErrorCode = 600
	ErrCodeStoreInsertFailed ErrorCode = 601
	ErrCodeStoreExportFailed ErrorCode = 602
)
