// Package crawler drives one catalog crawl: start page to category links,
// paginated detail listings per category, then extraction of each detail page.
// The engine is single threaded and consults the control gate before every
// category, detail and next-page fetch.
package crawler
