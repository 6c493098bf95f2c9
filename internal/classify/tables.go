package classify

import "github.com/JakeFAU/docverify/internal/document"

var labels = map[document.Category]string{
	document.CategoryCORSBlocked:  "Blocked by remote server",
	document.CategoryUnauthorized: "Login required",
	document.CategoryForbidden:    "Access denied",
	document.CategoryNotFound:     "Document not found",
	document.CategoryRateLimited:  "Too many requests",
	document.CategoryServerError:  "Remote server error",
	document.CategoryHTTPOther:    "Unexpected HTTP response",
	document.CategoryNotPDF:       "Not a PDF",
	document.CategoryFileTooLarge: "File too large",
	document.CategoryTimeout:      "Timed out",
	document.CategoryNetworkError: "Network error",
	document.CategoryInvalidURL:   "Invalid URL",
	document.CategoryHiddenChars:  "Hidden characters in URL",
	document.CategoryParseError:   "Unreadable PDF",
	document.CategoryUnknown:      "Unknown error",
}

var guidance = map[document.Category]string{
	document.CategoryCORSBlocked:  "The host does not allow direct downloads. Add it to the proxy allow-list or download the file manually and upload it.",
	document.CategoryUnauthorized: "The document sits behind a login. Sign in on the source site, download it, and upload it manually.",
	document.CategoryForbidden:    "The server refused access. Check whether the link requires special permissions or has expired.",
	document.CategoryNotFound:     "The link points to a missing document. Confirm the URL in the source row or locate the current link.",
	document.CategoryRateLimited:  "The server is throttling requests. Wait a few minutes before retrying.",
	document.CategoryServerError:  "The remote server failed. Retry later; if it persists, report the link as broken.",
	document.CategoryHTTPOther:    "The server returned an unexpected status. Open the link in a browser to see what it serves.",
	document.CategoryNotPDF:       "The link does not serve a PDF. It may be a landing page; find the direct document link.",
	document.CategoryFileTooLarge: "The document exceeds the download limit. Download it manually and upload a copy.",
	document.CategoryTimeout:      "The server took too long to respond. Retry, or download the file manually.",
	document.CategoryNetworkError: "The server could not be reached. Check the host name and your connection, then retry.",
	document.CategoryInvalidURL:   "The URL is malformed or uses an unsupported scheme. Correct it in the source row.",
	document.CategoryHiddenChars:  "The URL contains invisible characters, often from copy and paste. Retype the URL.",
	document.CategoryParseError:   "The file was downloaded but could not be read as a PDF. It may be corrupted or encrypted.",
	document.CategoryUnknown:      "The failure could not be identified. Retry, and review the raw message if it persists.",
}

// Label returns the stable display label for a category.
func Label(category document.Category) string {
	if label, ok := labels[category]; ok {
		return label
	}
	return labels[document.CategoryUnknown]
}

// Guidance returns the operator-facing remediation hint for a category.
func Guidance(category document.Category) string {
	if text, ok := guidance[category]; ok {
		return text
	}
	return guidance[document.CategoryUnknown]
}
