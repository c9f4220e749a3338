package whisper

// ToFloat32 exposes toFloat32 for tests.
var ToFloat32 = toFloat32
