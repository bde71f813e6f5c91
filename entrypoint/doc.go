// Package entrypoint locates the runnable main class of a Java project.
//
// Detection is a textual scan, not a parse. The first file, in snapshot
// order, containing a public static void main(String[]) declaration wins;
// projects with several candidates resolve to the lexically first file.
package entrypoint
