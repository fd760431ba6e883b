package filesystem

// NewInMemorySFTPFactory exposes the in-memory SFTP session factory to the
// external test package.
var NewInMemorySFTPFactory = newInMemorySFTPFactory
