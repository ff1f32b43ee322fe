// Package config loads the ptah configuration document and process settings.
//
// The YAML document declares credentials by name and the build profiles with
// their shared and router-specific file sources. Source kinds are closed sum
// types (FileSource, SecretSource) decoded from the `type` discriminator.
// Settings come from the environment and describe paths, upstream URLs and
// timeouts.
package config
