package update

// ErrorCode is the closed enumeration of action-terminal codes (spec.md
// sec.3, sec.4.8). Success is the only code that advances the action
// pipeline; every other code aborts it.
type ErrorCode int

const (
	Success ErrorCode = iota

	// Download-transport kinds.
	DownloadTransferError
	DownloadWriteError

	// Verification kinds.
	PayloadHashMismatchError
	PayloadSizeMismatchError
	PayloadMetadataSignatureError
	PayloadPubKeyVerificationError

	// Parser kinds.
	PayloadHeaderInvalid
	DownloadManifestParseError
	PayloadMismatchedType

	// Partition-writer kinds.
	DownloadOperationExecutionError
	DownloadStateInitializationError
	NewRootfsVerificationError
	NewKernelVerificationError

	// Policy kinds.
	OmahaUpdateIgnoredPerPolicy
	UpdatedButNotActive
	RollbackNotPermitted

	// External kinds, bubbled up from the boot-slot HAL or finalization.
	PostinstallRunnerError
	BootSlotExternalError

	// Pipeline control.
	UserCancelled
)

var errorCodeNames = map[ErrorCode]string{
	Success:                           "Success",
	DownloadTransferError:             "DownloadTransferError",
	DownloadWriteError:                "DownloadWriteError",
	PayloadHashMismatchError:          "PayloadHashMismatchError",
	PayloadSizeMismatchError:          "PayloadSizeMismatchError",
	PayloadMetadataSignatureError:     "PayloadMetadataSignatureError",
	PayloadPubKeyVerificationError:    "PayloadPubKeyVerificationError",
	PayloadHeaderInvalid:              "PayloadHeaderInvalid",
	DownloadManifestParseError:        "DownloadManifestParseError",
	PayloadMismatchedType:             "PayloadMismatchedType",
	DownloadOperationExecutionError:   "DownloadOperationExecutionError",
	DownloadStateInitializationError:  "DownloadStateInitializationError",
	NewRootfsVerificationError:        "NewRootfsVerificationError",
	NewKernelVerificationError:        "NewKernelVerificationError",
	OmahaUpdateIgnoredPerPolicy:       "OmahaUpdateIgnoredPerPolicy",
	UpdatedButNotActive:               "UpdatedButNotActive",
	RollbackNotPermitted:              "RollbackNotPermitted",
	PostinstallRunnerError:            "PostinstallRunnerError",
	BootSlotExternalError:             "BootSlotExternalError",
	UserCancelled:                     "UserCancelled",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return "UNKNOWN ErrorCode"
}

// Class is the attempter's classification of a terminal ErrorCode
// (spec.md sec.7).
type Class int

const (
	ClassSuccess Class = iota
	ClassRetryableWithBackoff
	ClassRetryableFresh
	ClassFatal
	ClassExternalCause
)

// Classify maps a terminal ErrorCode to its retry class.
func Classify(code ErrorCode) Class {
	switch code {
	case Success:
		return ClassSuccess
	case DownloadTransferError, DownloadWriteError:
		return ClassRetryableWithBackoff
	case PayloadHashMismatchError, PayloadSizeMismatchError:
		return ClassRetryableFresh
	case PayloadMetadataSignatureError, PayloadPubKeyVerificationError,
		PayloadMismatchedType, RollbackNotPermitted, DownloadManifestParseError,
		PayloadHeaderInvalid, DownloadStateInitializationError:
		return ClassFatal
	case BootSlotExternalError, PostinstallRunnerError:
		return ClassExternalCause
	default:
		return ClassFatal
	}
}
