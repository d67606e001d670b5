// Package transformer turns fetched responses into stored data and child URLs.
//
// The HTML transformer spools the body to a temporary file and runs three
// stages over fresh readers of that file: charset detection, data capture and,
// for HTML documents, link extraction. Redirect targets are added from the
// Location header, and the fetched URL itself is removed from the children.
package transformer
