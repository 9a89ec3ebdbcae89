// Package handlers provides HTTP request handlers for the recipe media API.
//
// It includes handlers for:
//   - Image, avatar, and video uploads (with remote image import)
//   - Serving stored media, including legacy URL layouts
//   - Media and recipe deletion
//   - On-demand orphan sweeps and inventory stats
//   - Password authentication and sessions
//   - Health checks and build information
package handlers
